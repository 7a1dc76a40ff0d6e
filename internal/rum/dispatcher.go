// Package rum is the permanent, best-effort channel for real-user-monitoring
// checkpoints. Producers fire named checkpoints; listeners registered for a
// name receive every later firing. Listener failures never reach the
// producer.
package rum

import (
	"context"
	"fmt"
	"sync"

	"github.com/dusk-indust/pageboot/internal/metrics"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/rs/zerolog"
)

// Checkpoint names a moment in the life of a page.
type Checkpoint string

const (
	CheckpointLazy      Checkpoint = "lazy"
	CheckpointCWV       Checkpoint = "cwv"
	CheckpointNotFound  Checkpoint = "404"
	CheckpointError     Checkpoint = "error"
	CheckpointConvert   Checkpoint = "convert"
	CheckpointViewBlock Checkpoint = "viewblock"
	CheckpointViewMedia Checkpoint = "viewmedia"
)

// Data is the payload of a checkpoint. Source and Target are nil when
// absent; any non-nil value, including 0 or "", counts as present.
type Data struct {
	Source  any
	Target  any
	Element *page.Element
	CWV     map[string]float64
}

// Listener receives checkpoint data.
type Listener func(ctx context.Context, data Data) error

// Dispatcher fans checkpoints out to listeners. Listeners may be registered
// at any time; a listener only sees checkpoints fired after it was added.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Checkpoint][]Listener
}

// New returns a Dispatcher with no listeners.
func New() *Dispatcher {
	return &Dispatcher{listeners: make(map[Checkpoint][]Listener)}
}

// On registers l for checkpoint cp.
func (d *Dispatcher) On(cp Checkpoint, l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[cp] = append(d.listeners[cp], l)
}

// Listeners reports how many listeners are registered for cp.
func (d *Dispatcher) Listeners(cp Checkpoint) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[cp])
}

// Fire invokes the listeners currently registered for cp, in registration
// order. Errors and panics are logged per listener and never returned.
func (d *Dispatcher) Fire(ctx context.Context, cp Checkpoint, data Data) {
	d.mu.RLock()
	ls := append([]Listener(nil), d.listeners[cp]...)
	d.mu.RUnlock()

	metrics.Checkpoints.WithLabelValues(string(cp)).Inc()
	for i, l := range ls {
		if err := call(ctx, l, data); err != nil {
			metrics.ListenerFailures.WithLabelValues(string(cp)).Inc()
			zerolog.Ctx(ctx).Warn().Err(err).Str("checkpoint", string(cp)).Int("listener", i).Msg("rum listener failed")
		}
	}
}

func call(ctx context.Context, l Listener, data Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(ctx, data)
}

// Async wraps l to run on its own goroutine, so a slow listener does not
// hold up the ones registered after it. Its errors are logged.
func Async(l Listener) Listener { return AsyncGroup(nil, l) }

// AsyncGroup is Async with each run counted in wg, so callers can wait for
// listeners still in flight. A nil wg is allowed.
func AsyncGroup(wg *sync.WaitGroup, l Listener) Listener {
	return func(ctx context.Context, data Data) error {
		if wg != nil {
			wg.Add(1)
		}
		go func() {
			if wg != nil {
				defer wg.Done()
			}
			if err := call(ctx, l, data); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("async rum listener failed")
			}
		}()
		return nil
	}
}

// Observe fires viewblock for decorated blocks and viewmedia for images
// among els. Other elements are ignored.
func (d *Dispatcher) Observe(ctx context.Context, els []*page.Element) {
	for _, el := range els {
		switch {
		case el.Attr("data-block-name") != "":
			d.Fire(ctx, CheckpointViewBlock, Data{Source: el.Attr("data-block-name"), Element: el})
		case el.Tag() == "img":
			d.Fire(ctx, CheckpointViewMedia, Data{Target: el.Attr("src"), Element: el})
		}
	}
}
