package builtin

import (
	"context"
	"errors"
	"sync"

	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/dusk-indust/pageboot/internal/rum"
)

// ErrNotTracked is returned by Submit for a form the module did not pick up.
var ErrNotTracked = errors.New("builtin: form is not tracked")

// Conversion finds the forms a page marks for conversion tracking and turns
// their submissions into convert checkpoints.
//
// A form is tracked when it sits in a section carrying data-conversion-name
// (set from section metadata) or when the page declares a conversion-name
// meta. The conversion name is the checkpoint source.
type Conversion struct {
	dispatcher *rum.Dispatcher

	mu    sync.Mutex
	forms []trackedForm
}

type trackedForm struct {
	el   *page.Element
	name string
}

// NewConversion returns a module firing on d.
func NewConversion(d *rum.Dispatcher) *Conversion {
	return &Conversion{dispatcher: d}
}

// Hooks returns the module's lifecycle hooks.
func (c *Conversion) Hooks() plugin.Hooks {
	return plugin.Hooks{plugin.HookLoadLazy: c.loadLazy}
}

func (c *Conversion) loadLazy(_ context.Context, doc *page.Document, _ plugin.Options) error {
	pageName := doc.Meta("conversion-name")
	main := doc.Main()
	if main == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, form := range main.FindAll(page.ByTag("form")) {
		if form.Attr("data-conversion-tracked") != "" {
			continue
		}
		name := pageName
		for p := form.Parent(); p != nil; p = p.Parent() {
			if v := p.Attr("data-conversion-name"); v != "" {
				name = v
				break
			}
		}
		if name == "" {
			continue
		}
		form.SetAttr("data-conversion-tracked", name)
		c.forms = append(c.forms, trackedForm{el: form, name: name})
	}
	return nil
}

// Forms returns the tracked forms in document order.
func (c *Conversion) Forms() []*page.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*page.Element, 0, len(c.forms))
	for _, f := range c.forms {
		out = append(out, f.el)
	}
	return out
}

// Submit fires convert for a tracked form. A nil target is sent as absent,
// which makes the conversion a partial one.
func (c *Conversion) Submit(ctx context.Context, form *page.Element, target any) error {
	if form == nil {
		return ErrNotTracked
	}
	c.mu.Lock()
	var name string
	for _, f := range c.forms {
		if f.el.Node() == form.Node() {
			name = f.name
			break
		}
	}
	c.mu.Unlock()

	if name == "" {
		return ErrNotTracked
	}
	c.dispatcher.Fire(ctx, rum.CheckpointConvert, rum.Data{Source: name, Target: target, Element: form})
	return nil
}
