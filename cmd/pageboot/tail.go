package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/pageboot/internal/analytics"
	"github.com/spf13/cobra"
)

const defaultCollector = "http://localhost:8089"

func newTailCmd(root *rootFlags) *cobra.Command {
	var (
		endpoint string
		kind     string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow envelopes as a collector stores them",
		Long: `Follow envelopes as a collector stores them, using its /events/stream
endpoint. The collector defaults to analytics.endpoint from the config, or
` + defaultCollector + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = cfg.Analytics.Endpoint
			}
			if endpoint == "" {
				endpoint = defaultCollector
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, endpoint, kind, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "collector base URL")
	cmd.Flags().StringVar(&kind, "kind", "", "only show envelopes of this kind (conversion, 404, error, cwv)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each envelope as a JSON line")
	return cmd
}

// runTail prints envelopes until the stream ends or ctx is done.
func runTail(ctx context.Context, endpoint, kind string, asJSON bool, w io.Writer) error {
	events, err := analytics.Tail(ctx, nil, endpoint, kind)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for ev := range events {
		if ev.Err != nil {
			fmt.Fprintf(w, "! %v\n", ev.Err)
			continue
		}
		if asJSON {
			if err := enc.Encode(ev.Envelope); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(w, formatEnvelope(ev.Envelope))
	}
	return nil
}

func formatEnvelope(env analytics.Envelope) string {
	line := fmt.Sprintf("%s %-10s %s", env.SentAt.Format("15:04:05.000"), env.Kind, env.PageView)
	switch env.Kind {
	case analytics.KindConversion:
		if c := env.Conversion; c != nil {
			line += fmt.Sprintf(" %s source=%v target=%v", c.Kind, c.Source, c.Target)
		}
	case analytics.KindCWV:
		data, _ := json.Marshal(env.CWV)
		line += " " + string(data)
	default:
		line += fmt.Sprintf(" source=%v target=%v", env.Source, env.Target)
	}
	return line
}
