// Package conversion turns convert checkpoints into analytics conversion
// calls. Partial form submissions arriving as separate checkpoints are held
// for a short window and merged into a single call.
package conversion

import (
	"context"
	"sync"
	"time"

	"github.com/dusk-indust/pageboot/internal/metrics"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWindow is how long a partial form conversion waits for its
// counterpart.
const DefaultWindow = 100 * time.Millisecond

// KindFormComplete tags conversions raised by form elements.
const KindFormComplete = "Form Complete"

// Event is an outbound conversion. Source and Target are nil when absent.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"event,omitempty"`
	Element   string    `json:"element,omitempty"`
	Source    any       `json:"source,omitempty"`
	Target    any       `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// complete reports whether both target and source are present.
func (e Event) complete() bool {
	return e.Target != nil && e.Source != nil
}

// mergeOver returns held with next's present fields laid over it.
func mergeOver(held, next Event) Event {
	out := held
	if next.Target != nil {
		out.Target = next.Target
	}
	if next.Source != nil {
		out.Source = next.Source
	}
	if next.Element != "" {
		out.Element = next.Element
	}
	return out
}

// Tracker sends conversions to the analytics backend.
type Tracker interface {
	TrackConversion(ctx context.Context, ev Event) error
}

// Buffer is the conversion state machine. At most one merge is pending per
// page; it is cleared only when its timer fires.
type Buffer struct {
	tracker   Tracker
	ready     func() bool
	window    time.Duration
	afterFunc func(time.Duration, func())
	now       func() time.Time

	mu       sync.Mutex
	pending  *pendingMerge
	inflight sync.WaitGroup
}

// pendingMerge is the in-flight buffered conversion.
type pendingMerge struct {
	held Event
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithReady installs the transport precondition. Conversions are dropped
// while it reports false.
func WithReady(ready func() bool) Option {
	return func(b *Buffer) { b.ready = ready }
}

// WithAfterFunc replaces the timer used for the merge window.
func WithAfterFunc(f func(time.Duration, func())) Option {
	return func(b *Buffer) { b.afterFunc = f }
}

// WithClock replaces the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New creates a Buffer sending to tracker.
func New(tracker Tracker, opts ...Option) *Buffer {
	b := &Buffer{
		tracker: tracker,
		ready:   func() bool { return true },
		window:  DefaultWindow,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Pending reports whether a merge is in flight.
func (b *Buffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// Wait blocks until every conversion handed to the tracker so far has been
// sent. A merge still inside its window is not waited for.
func (b *Buffer) Wait() { b.inflight.Wait() }

// Handle is the convert checkpoint listener. State changes happen before it
// returns; tracker calls run on their own goroutines.
func (b *Buffer) Handle(ctx context.Context, data rum.Data) error {
	if data.Element == nil || b.tracker == nil || !b.ready() {
		metrics.Conversions.WithLabelValues("dropped").Inc()
		return nil
	}

	ev := Event{
		ID:        uuid.NewString(),
		Element:   data.Element.Tag(),
		Source:    data.Source,
		Target:    data.Target,
		Timestamp: b.now(),
	}

	if ev.Element != "form" {
		b.emit(ctx, ev, "immediate")
		return nil
	}

	ev.Kind = KindFormComplete
	if ev.complete() {
		b.emit(ctx, ev, "immediate")
		return nil
	}

	b.mu.Lock()
	if b.pending != nil {
		b.pending.held = mergeOver(b.pending.held, ev)
		b.mu.Unlock()
		metrics.Conversions.WithLabelValues("merged").Inc()
		return nil
	}
	b.pending = &pendingMerge{held: ev}
	b.mu.Unlock()

	metrics.Conversions.WithLabelValues("buffered").Inc()
	flushCtx := context.WithoutCancel(ctx)
	b.afterFunc(b.window, func() { b.flush(flushCtx) })
	return nil
}

// flush emits the held conversion and clears the pending merge.
func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	p := b.pending
	b.pending = nil
	if p != nil {
		b.inflight.Add(1)
	}
	b.mu.Unlock()

	if p == nil {
		return
	}
	go b.send(ctx, p.held, "flushed")
}

func (b *Buffer) emit(ctx context.Context, ev Event, path string) {
	b.inflight.Add(1)
	go b.send(context.WithoutCancel(ctx), ev, path)
}

func (b *Buffer) send(ctx context.Context, ev Event, path string) {
	defer b.inflight.Done()
	metrics.Conversions.WithLabelValues(path).Inc()
	if err := b.tracker.TrackConversion(ctx, ev); err != nil {
		metrics.TransportFailures.WithLabelValues("conversion").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", ev.Kind).Msg("conversion tracking failed")
	}
}
