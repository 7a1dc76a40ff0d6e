package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dusk-indust/pageboot/internal/condition"
	"github.com/dusk-indust/pageboot/internal/config"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/rs/zerolog"
)

// Set is the built-in modules of one page view and the catalog resolving
// their references.
type Set struct {
	Experimentation *Experimentation
	Conversion      *Conversion
	Catalog         *plugin.Catalog
}

// NewSet builds the built-in modules for the page view described by env.
// The conversion module fires on d.
func NewSet(env page.Environment, d *rum.Dispatcher) *Set {
	s := &Set{
		Experimentation: NewExperimentation(env),
		Conversion:      NewConversion(d),
		Catalog:         plugin.NewCatalog(),
	}
	s.Catalog.Register(RefExperimentation, s.Experimentation.Hooks())
	s.Catalog.Register(RefRUMConversion, s.Conversion.Hooks())
	return s
}

// Defaults returns the stock declarations: rum-conversion on the lazy
// stage, and experimentation on the eager stage when the page asks for it.
func Defaults(prodHost string) []config.PluginConfig {
	exp := config.PluginConfig{
		Name:      "experimentation",
		URL:       RefExperimentation,
		Condition: condition.NameExperimentation,
	}
	if prodHost != "" {
		exp.Options = map[string]any{"prodHost": prodHost}
	}
	return []config.PluginConfig{
		{Name: "rum-conversion", URL: RefRUMConversion, Load: "lazy"},
		exp,
	}
}

// Declare adds decls to reg in order. A declaration with an unknown stage
// or condition is skipped and reported; the rest are still added. A name
// already registered keeps its first declaration.
func Declare(ctx context.Context, reg *plugin.Registry, decls []config.PluginConfig) error {
	logger := zerolog.Ctx(ctx)

	var errs []error
	for _, d := range decls {
		desc, err := descriptor(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !reg.Add(d.Name, desc) {
			logger.Warn().Str("plugin", d.Name).Msg("duplicate plugin ignored")
		}
	}
	return errors.Join(errs...)
}

func descriptor(d config.PluginConfig) (plugin.Descriptor, error) {
	stage, err := plugin.ParseStage(d.Load)
	if err != nil {
		return plugin.Descriptor{}, fmt.Errorf("builtin: plugin %q: %w", d.Name, err)
	}
	desc := plugin.Descriptor{
		URL:     d.URL,
		Stage:   stage,
		Options: plugin.Options(d.Options),
	}
	if d.Condition != "" {
		cond, ok := condition.Lookup(d.Condition)
		if !ok {
			return plugin.Descriptor{}, fmt.Errorf("builtin: plugin %q: unknown condition %q", d.Name, d.Condition)
		}
		desc.Condition = cond
	}
	return desc, nil
}
