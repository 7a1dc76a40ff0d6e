package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/dusk-indust/pageboot/internal/metrics"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// entry is the registry's record for one plugin.
type entry struct {
	name   string
	desc   Descriptor
	state  State
	module Module
	err    error
}

// Registry holds the plugins of a single page view. Plugins are added before
// the bootstrap starts and are never removed.
type Registry struct {
	doc    *page.Document
	loader Loader

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order
}

// New creates a Registry evaluating conditions against doc and resolving
// URL plugins through loader. loader may be nil when every plugin is inline.
func New(doc *page.Document, loader Loader) *Registry {
	return &Registry{
		doc:     doc,
		loader:  loader,
		entries: make(map[string]*entry),
	}
}

// Add registers a plugin. A name that is already registered is left
// untouched and Add reports false.
func (r *Registry) Add(name string, desc Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return false
	}
	r.entries[name] = &entry{name: name, desc: desc, state: StateRegistered}
	r.order = append(r.order, name)
	return true
}

// Load activates every plugin declared for stage whose condition holds and
// resolves their modules concurrently. It returns once every qualifying
// plugin has attempted resolution. A single plugin's failure is logged and
// recorded on that plugin only.
func (r *Registry) Load(ctx context.Context, stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, stage)
	}
	logger := zerolog.Ctx(ctx)

	var pending []*entry
	for _, e := range r.snapshot() {
		if e.desc.Stage != stage {
			continue
		}
		if !r.activate(ctx, e) {
			metrics.PluginLoads.WithLabelValues(stage.String(), "inactive").Inc()
			logger.Debug().Str("plugin", e.name).Str("stage", stage.String()).Msg("plugin condition not met")
			continue
		}
		pending = append(pending, e)
	}

	var g errgroup.Group
	for _, e := range pending {
		g.Go(func() error {
			r.mu.Lock()
			e.state = StateLoading
			r.mu.Unlock()

			m, err := r.resolve(ctx, e)
			r.mu.Lock()
			if err != nil {
				e.state, e.err = StateLoadFailed, err
			} else {
				e.state, e.module = StateLoaded, m
			}
			r.mu.Unlock()

			if err != nil {
				metrics.PluginLoads.WithLabelValues(stage.String(), "failed").Inc()
				logger.Error().Err(err).Str("plugin", e.name).Str("stage", stage.String()).Msg("plugin load failed")
				return nil
			}
			metrics.PluginLoads.WithLabelValues(stage.String(), "loaded").Inc()
			logger.Debug().Str("plugin", e.name).Str("stage", stage.String()).Msg("plugin loaded")
			return nil
		})
	}
	return g.Wait()
}

// activate evaluates the plugin condition once and moves the plugin to
// active or inactive. Plugins already past registration are skipped. A
// panicking condition counts as false and is logged.
func (r *Registry) activate(ctx context.Context, e *entry) bool {
	r.mu.Lock()
	if e.state != StateRegistered {
		r.mu.Unlock()
		return false
	}
	cond := e.desc.Condition
	r.mu.Unlock()

	active := true
	if cond != nil {
		var err error
		active, err = safeCondition(cond, r.doc)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("plugin", e.name).
				Str("stage", e.desc.Stage.String()).
				Msg("plugin condition failed")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !active {
		e.state = StateInactive
		return false
	}
	e.state = StateActive
	return true
}

// safeCondition evaluates cond, turning a panic into false and an error.
func safeCondition(cond func(*page.Document) bool, doc *page.Document) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("condition panicked: %v", rec)
		}
	}()
	return cond(doc), nil
}

// resolve returns the plugin's module, either inline or through the loader.
func (r *Registry) resolve(ctx context.Context, e *entry) (m Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %q: loader panicked: %v", e.name, rec)
		}
	}()

	switch {
	case e.desc.Module != nil:
		return e.desc.Module, nil
	case e.desc.URL == "":
		return nil, fmt.Errorf("plugin %q: %w", e.name, ErrNoResource)
	case r.loader == nil:
		return nil, fmt.Errorf("plugin %q: %w", e.name, ErrNoLoader)
	}

	m, err = r.loader.Load(ctx, e.desc.URL)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: load %s: %w", e.name, e.desc.URL, err)
	}
	if m == nil {
		return nil, fmt.Errorf("plugin %q: load %s: %w", e.name, e.desc.URL, ErrNoResource)
	}
	return m, nil
}

// Run invokes hook on every loaded plugin that exposes it, in registration
// order, passing the document and the plugin's options. A failing hook is
// logged and does not stop the remaining plugins.
func (r *Registry) Run(ctx context.Context, hook Hook) {
	logger := zerolog.Ctx(ctx)

	for _, e := range r.snapshot() {
		r.mu.Lock()
		state, m, opts := e.state, e.module, e.desc.Options
		r.mu.Unlock()

		if state != StateLoaded {
			continue
		}
		fn, ok := m.Hook(hook)
		if !ok {
			continue
		}
		if err := invoke(ctx, fn, r.doc, opts); err != nil {
			metrics.PluginHooks.WithLabelValues(string(hook), "failed").Inc()
			logger.Error().Err(err).Str("plugin", e.name).Str("hook", string(hook)).Msg("plugin hook failed")
			continue
		}
		metrics.PluginHooks.WithLabelValues(string(hook), "ok").Inc()
	}
}

// invoke calls fn, converting a panic into an error.
func invoke(ctx context.Context, fn HookFunc, doc *page.Document, opts Options) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panicked: %v", rec)
		}
	}()
	return fn(ctx, doc, opts)
}

// State returns the current state of a plugin.
func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Statuses returns every plugin in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Status{
			Name:  e.name,
			URL:   e.desc.URL,
			Stage: e.desc.Stage,
			State: e.state,
			Err:   e.err,
		})
	}
	return out
}

// snapshot returns the entries in registration order.
func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}
