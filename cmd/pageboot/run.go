package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dusk-indust/pageboot/internal/analytics"
	"github.com/dusk-indust/pageboot/internal/bootstrap"
	"github.com/dusk-indust/pageboot/internal/builtin"
	"github.com/dusk-indust/pageboot/internal/config"
	"github.com/dusk-indust/pageboot/internal/conversion"
	"github.com/dusk-indust/pageboot/internal/decorate"
	"github.com/dusk-indust/pageboot/internal/export"
	"github.com/dusk-indust/pageboot/internal/logging"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runFlags struct {
	URL      string
	Viewport int
	SiteRoot string
	Format   string
	Render   string
	Submit   bool
	CWV      map[string]string
	NoWait   bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <page.html>",
		Short: "Bootstrap a page and report what happened",
		Long: `Run the eager, lazy and delayed stages against an HTML page.

Stylesheets and images are resolved against --site-root, which defaults to
the page's directory. Analytics calls go to analytics.endpoint when one is
configured and are always recorded for the report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runPage(cmd.Context(), cfg, args[0], flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "page URL (default https://<site.host>/)")
	cmd.Flags().IntVar(&flags.Viewport, "viewport", 1280, "viewport width in pixels")
	cmd.Flags().StringVar(&flags.SiteRoot, "site-root", "", "directory site resources are resolved against")
	cmd.Flags().StringVar(&flags.Format, "format", "text", "output format: text, json or mermaid")
	cmd.Flags().StringVar(&flags.Render, "render", "", "write the decorated page to this file")
	cmd.Flags().BoolVar(&flags.Submit, "submit", false, "submit every tracked conversion form")
	cmd.Flags().StringToStringVar(&flags.CWV, "cwv", nil, "core web vitals reported before unload, e.g. LCP=1200,CLS=0.02")
	cmd.Flags().BoolVar(&flags.NoWait, "no-wait", false, "run the delayed stage immediately")
	return cmd
}

func runPage(ctx context.Context, cfg config.Config, path string, flags *runFlags, stdout, stderr io.Writer) error {
	switch flags.Format {
	case "text", "json", "mermaid":
	default:
		return fmt.Errorf("unknown format %q", flags.Format)
	}
	cwv, err := parseCWV(flags.CWV)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	ctx = logger.WithContext(ctx)

	doc, err := parsePage(path)
	if err != nil {
		return err
	}
	env, err := environment(cfg, flags)
	if err != nil {
		return err
	}
	siteRoot := flags.SiteRoot
	if siteRoot == "" {
		siteRoot = filepath.Dir(path)
	}

	pageView := uuid.New()
	recorded := analytics.NewMemoryTracker(pageView.String())
	var tracker analytics.Tracker = recorded
	if cfg.Analytics.Endpoint != "" {
		tracker = analytics.Multi{
			analytics.NewHTTPTracker(cfg.Analytics.Endpoint, pageView.String(), analytics.WithTimeout(cfg.Analytics.Timeout.Duration)),
			recorded,
		}
	}
	session := analytics.NewSession(pageView, tracker, conversion.WithWindow(cfg.Timing.ConversionWindow.Duration))
	dispatcher := rum.New()
	session.Register(dispatcher)

	builtins := builtin.NewSet(env, dispatcher)
	registry := plugin.New(doc, builtins.Catalog)
	decls := cfg.Plugins
	if len(decls) == 0 {
		decls = builtin.Defaults(cfg.Site.Host)
	}
	if err := builtin.Declare(ctx, registry, decls); err != nil {
		return err
	}

	deco := decorate.New(doc,
		decorate.WithCodeBasePath(cfg.Site.CodeBasePath),
		decorate.WithFetcher(decorate.DirFetcher{Root: siteRoot}),
	)

	progress := bootstrap.NewProgressReporter()
	var steps []bootstrap.ProgressEvent
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range progress.Subscribe() {
			steps = append(steps, ev)
			if flags.Format == "text" {
				fmt.Fprintln(stdout, bootstrap.FormatProgress(ev))
			}
		}
	}()

	delayedAfter := cfg.Timing.DelayedAfter.Duration
	if flags.NoWait {
		delayedAfter = 0
	}
	sched := bootstrap.New(doc, registry, deco, dispatcher,
		bootstrap.WithEnvironment(env),
		bootstrap.WithLang(cfg.Site.Lang),
		bootstrap.WithCodeBasePath(cfg.Site.CodeBasePath),
		bootstrap.WithFontsMinViewport(cfg.Fonts.MinViewport),
		bootstrap.WithDelayedAfter(delayedAfter),
		bootstrap.WithAnalytics(session.Setup),
		bootstrap.WithProgress(progress),
	)

	start := time.Now()
	if err := sched.LoadPage(ctx); err != nil {
		progress.Close()
		return err
	}
	sched.Settle()

	if flags.Submit {
		for _, form := range builtins.Conversion.Forms() {
			var target any
			if action, ok := form.LookupAttr("action"); ok {
				target = action
			}
			if err := builtins.Conversion.Submit(ctx, form, target); err != nil {
				logger.Warn().Err(err).Msg("form submit failed")
			}
		}
	}

	select {
	case <-sched.Delayed():
	case <-ctx.Done():
		progress.Close()
		return ctx.Err()
	}
	sched.Settle()

	if len(cwv) > 0 {
		dispatcher.Fire(ctx, rum.CheckpointCWV, rum.Data{CWV: cwv})
	}
	waitForBuffer(ctx, session.Buffer())
	session.Unload(ctx)

	progress.Close()
	<-drained
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("page loaded")

	if flags.Render != "" {
		if err := renderTo(doc, flags.Render); err != nil {
			return err
		}
	}

	report := export.BuildReport(export.Run{
		Page:     path,
		PageView: pageView.String(),
		Plugins:  registry.Statuses(),
		Progress: steps,
		Events:   recorded.Events(),
	}, time.Now())

	switch flags.Format {
	case "json":
		return export.WriteJSON(stdout, report)
	case "mermaid":
		_, err := io.WriteString(stdout, export.GenerateMermaid(report))
		return err
	default:
		printSummary(stdout, report)
		return nil
	}
}

func parsePage(path string) (*page.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return page.Parse(f)
}

func environment(cfg config.Config, flags *runFlags) (page.Environment, error) {
	raw := flags.URL
	if raw == "" {
		host := cfg.Site.Host
		if host == "" {
			host = "localhost"
		}
		raw = "https://" + host + "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return page.Environment{}, fmt.Errorf("parse --url: %w", err)
	}
	return page.Environment{
		ViewportWidth: flags.Viewport,
		URL:           u,
		Session:       page.NewMemorySession(),
	}, nil
}

func parseCWV(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("--cwv %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// waitForBuffer gives a pending form conversion the chance to flush before
// the page view ends.
func waitForBuffer(ctx context.Context, b *conversion.Buffer) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for b.Pending() {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
	b.Wait()
}

func renderTo(doc *page.Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render: %w", err)
	}
	return f.Close()
}

func printSummary(w io.Writer, report *export.RunReport) {
	fmt.Fprintf(w, "\nPage view %s\n", report.PageView)
	fmt.Fprintln(w, "Plugins:")
	if len(report.Plugins) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range report.Plugins {
		line := fmt.Sprintf("  %-20s %-8s %s", p.Name, p.Stage, p.State)
		if p.Error != "" {
			line += " (" + p.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Analytics calls: %d\n", len(report.Events))
	for _, e := range report.Events {
		fmt.Fprintf(w, "  %s\n", e.Kind)
	}
}
