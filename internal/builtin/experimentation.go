// Package builtin holds the plugin modules compiled into pageboot and the
// declarations that wire them, or config-declared plugins, into a registry.
package builtin

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
)

// Module references resolved by the Catalog returned from NewCatalog.
const (
	RefExperimentation = "/plugins/experimentation/src/index.js"
	RefRUMConversion   = "/plugins/rum-conversion/src/index.js"
)

// ControlVariant is the variant served when no other is selected.
const ControlVariant = "control"

// Experimentation resolves the experiment, campaign and audience metadata of
// a page onto the body, and mounts the experimentation rail once the
// authoring toolbar is ready.
//
// Options read by the hooks:
//
//	prodHost   host of the production site; other hosts are marked preview
//	variant    variant to serve, defaults to "control"
//	audiences  name -> {minViewport, maxViewport}
type Experimentation struct {
	env page.Environment

	// Sidekick is closed when the authoring toolbar signals it is ready.
	// A nil channel means no toolbar will appear.
	Sidekick <-chan struct{}
}

// NewExperimentation returns the module for the page view described by env.
func NewExperimentation(env page.Environment) *Experimentation {
	return &Experimentation{env: env}
}

// Hooks returns the module's lifecycle hooks.
func (e *Experimentation) Hooks() plugin.Hooks {
	return plugin.Hooks{
		plugin.HookLoadEager: e.loadEager,
		plugin.HookLoadLazy:  e.loadLazy,
	}
}

func (e *Experimentation) loadEager(_ context.Context, doc *page.Document, opts plugin.Options) error {
	body := doc.Body()
	if body == nil {
		return fmt.Errorf("experimentation: document has no body")
	}

	if id := doc.Meta("experiment"); id != "" {
		variants := splitList(doc.Meta("experiment-variants"))
		variant := ControlVariant
		if v, ok := opts["variant"].(string); ok && v != "" {
			variant = v
		}
		if variant != ControlVariant && !slices.Contains(variants, variant) {
			return fmt.Errorf("experimentation: experiment %q has no variant %q", id, variant)
		}
		body.SetAttr("data-experiment", id)
		body.SetAttr("data-experiment-variant", variant)
	}

	if campaigns := metaWithPrefix(doc, "campaign-"); len(campaigns) > 0 {
		body.SetAttr("data-campaigns", strings.Join(campaigns, ","))
	}

	if audiences := e.audiences(opts); len(audiences) > 0 {
		body.SetAttr("data-audiences", strings.Join(audiences, ","))
	}

	if host, ok := opts["prodHost"].(string); ok && host != "" && e.env.Hostname() != host {
		body.SetAttr("data-experiment-preview", "true")
	}
	return nil
}

// audiences returns the configured audiences matching the viewport, sorted.
func (e *Experimentation) audiences(opts plugin.Options) []string {
	defs, ok := opts["audiences"].(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	for name, def := range defs {
		bounds, _ := def.(map[string]any)
		if lo, ok := number(bounds["minViewport"]); ok && float64(e.env.ViewportWidth) < lo {
			continue
		}
		if hi, ok := number(bounds["maxViewport"]); ok && float64(e.env.ViewportWidth) > hi {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// loadLazy mounts the rail when a toolbar is on the page, or waits for the
// Sidekick signal. It returns ctx's error if cancelled while waiting.
func (e *Experimentation) loadLazy(ctx context.Context, doc *page.Document, _ plugin.Options) error {
	toolbar := doc.Root().Find(func(el *page.Element) bool {
		return el.Tag() == "helix-sidekick" || el.Tag() == "aem-sidekick"
	})
	if toolbar == nil {
		if e.Sidekick == nil {
			return nil
		}
		select {
		case <-e.Sidekick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	body := doc.Body()
	if body == nil {
		return fmt.Errorf("experimentation: document has no body")
	}
	if body.Find(page.ByClass("experimentation-rail")) != nil {
		return nil
	}
	rail := page.NewElement("aside")
	rail.AddClass("experimentation-rail")
	if id := body.Attr("data-experiment"); id != "" {
		rail.SetAttr("data-experiment", id)
	}
	body.Append(rail)
	return nil
}

// metaWithPrefix returns the suffixes of head meta names starting with
// prefix, in document order.
func metaWithPrefix(doc *page.Document, prefix string) []string {
	var out []string
	for _, el := range doc.Head().FindAll(page.AttrPrefix("name", prefix)) {
		if el.Tag() != "meta" {
			continue
		}
		out = append(out, strings.TrimPrefix(el.Attr("name"), prefix))
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// number accepts the numeric types produced by the yaml, toml and json
// decoders.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
