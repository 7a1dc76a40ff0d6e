// Package analytics carries RUM signals to an analytics collector: the
// tracker interface used by a page view, its HTTP and in-memory
// implementations, and the collector that receives them.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/dusk-indust/pageboot/internal/conversion"
	"github.com/dusk-indust/pageboot/internal/rum"
)

// Event kinds carried in an Envelope.
const (
	KindConversion = "conversion"
	KindNotFound   = "404"
	KindError      = "error"
	KindCWV        = "cwv"
)

// Tracker sends analytics calls for one page view.
type Tracker interface {
	conversion.Tracker
	TrackNotFound(ctx context.Context, data rum.Data) error
	TrackError(ctx context.Context, data rum.Data) error
	TrackCWV(ctx context.Context, values map[string]float64) error
}

// Envelope is the JSON document exchanged with the collector.
type Envelope struct {
	ID         string             `json:"id,omitempty"`
	Kind       string             `json:"kind"`
	PageView   string             `json:"pageView,omitempty"`
	SentAt     time.Time          `json:"sentAt"`
	Conversion *conversion.Event  `json:"conversion,omitempty"`
	Source     any                `json:"source,omitempty"`
	Target     any                `json:"target,omitempty"`
	CWV        map[string]float64 `json:"cwv,omitempty"`
}

// envelopeFor builds the envelope for a 404 or error checkpoint.
func envelopeFor(kind, pageView string, data rum.Data) Envelope {
	return Envelope{
		Kind:     kind,
		PageView: pageView,
		SentAt:   time.Now().UTC(),
		Source:   data.Source,
		Target:   data.Target,
	}
}

// Compile-time interface checks.
var (
	_ Tracker = (*MemoryTracker)(nil)
	_ Tracker = (*HTTPTracker)(nil)
)

// MemoryTracker records envelopes in memory. It backs dry runs and tests.
type MemoryTracker struct {
	PageView string

	mu     sync.Mutex
	events []Envelope
}

// NewMemoryTracker returns an empty MemoryTracker.
func NewMemoryTracker(pageView string) *MemoryTracker {
	return &MemoryTracker{PageView: pageView}
}

func (m *MemoryTracker) record(e Envelope) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) TrackConversion(_ context.Context, ev conversion.Event) error {
	return m.record(Envelope{Kind: KindConversion, PageView: m.PageView, SentAt: time.Now().UTC(), Conversion: &ev})
}

func (m *MemoryTracker) TrackNotFound(_ context.Context, data rum.Data) error {
	return m.record(envelopeFor(KindNotFound, m.PageView, data))
}

func (m *MemoryTracker) TrackError(_ context.Context, data rum.Data) error {
	return m.record(envelopeFor(KindError, m.PageView, data))
}

func (m *MemoryTracker) TrackCWV(_ context.Context, values map[string]float64) error {
	return m.record(Envelope{Kind: KindCWV, PageView: m.PageView, SentAt: time.Now().UTC(), CWV: values})
}

// Events returns a copy of the recorded envelopes.
func (m *MemoryTracker) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

// Multi sends every call to each tracker in order. It reports the first
// error but still calls the remaining trackers.
type Multi []Tracker

var _ Tracker = Multi(nil)

func (m Multi) each(f func(Tracker) error) error {
	var first error
	for _, t := range m {
		if err := f(t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) TrackConversion(ctx context.Context, ev conversion.Event) error {
	return m.each(func(t Tracker) error { return t.TrackConversion(ctx, ev) })
}

func (m Multi) TrackNotFound(ctx context.Context, data rum.Data) error {
	return m.each(func(t Tracker) error { return t.TrackNotFound(ctx, data) })
}

func (m Multi) TrackError(ctx context.Context, data rum.Data) error {
	return m.each(func(t Tracker) error { return t.TrackError(ctx, data) })
}

func (m Multi) TrackCWV(ctx context.Context, values map[string]float64) error {
	return m.each(func(t Tracker) error { return t.TrackCWV(ctx, values) })
}

// Ping pings every member that supports it and stops at the first failure.
func (m Multi) Ping(ctx context.Context) error {
	for _, t := range m {
		if p, ok := t.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
