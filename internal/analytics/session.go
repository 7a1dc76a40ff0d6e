package analytics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dusk-indust/pageboot/internal/conversion"
	"github.com/dusk-indust/pageboot/internal/metrics"
	"github.com/dusk-indust/pageboot/internal/rum"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pinger is implemented by trackers that can check their transport.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Session binds one page view to a tracker: it owns the CWV accumulator and
// the conversion buffer and forwards checkpoints to the tracker.
type Session struct {
	ID uuid.UUID

	tracker  Tracker
	cwv      *rum.CWV
	buffer   *conversion.Buffer
	ready    atomic.Bool
	unload   sync.Once
	inflight sync.WaitGroup
}

// NewSession creates a session for tracker. Conversions are dropped until
// Setup succeeds.
func NewSession(id uuid.UUID, tracker Tracker, opts ...conversion.Option) *Session {
	s := &Session{
		ID:      id,
		tracker: tracker,
		cwv:     rum.NewCWV(),
	}
	opts = append([]conversion.Option{conversion.WithReady(s.ready.Load)}, opts...)
	s.buffer = conversion.New(tracker, opts...)
	return s
}

// CWV returns the session's accumulator.
func (s *Session) CWV() *rum.CWV { return s.cwv }

// Buffer returns the session's conversion buffer.
func (s *Session) Buffer() *conversion.Buffer { return s.buffer }

// Ready reports whether Setup has completed.
func (s *Session) Ready() bool { return s.ready.Load() }

// Register wires the session's listeners into d. Tracker calls never run
// on the firing goroutine.
func (s *Session) Register(d *rum.Dispatcher) {
	d.On(rum.CheckpointCWV, s.cwv.Listener())
	d.On(rum.CheckpointNotFound, rum.AsyncGroup(&s.inflight, func(ctx context.Context, data rum.Data) error {
		return s.forward(ctx, KindNotFound, func() error { return s.tracker.TrackNotFound(ctx, data) })
	}))
	d.On(rum.CheckpointError, rum.AsyncGroup(&s.inflight, func(ctx context.Context, data rum.Data) error {
		return s.forward(ctx, KindError, func() error { return s.tracker.TrackError(ctx, data) })
	}))
	d.On(rum.CheckpointConvert, s.buffer.Handle)
}

// Wait blocks until the tracker calls started so far have returned.
func (s *Session) Wait() {
	s.inflight.Wait()
	s.buffer.Wait()
}

// Setup makes the transport available. A tracker that implements Pinger
// must answer before the session becomes ready.
func (s *Session) Setup(ctx context.Context) error {
	if s.tracker == nil {
		return fmt.Errorf("analytics: setup: no tracker")
	}
	if p, ok := s.tracker.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			metrics.TransportFailures.WithLabelValues("ping").Inc()
			return fmt.Errorf("analytics: setup: %w", err)
		}
	}
	s.ready.Store(true)
	zerolog.Ctx(ctx).Debug().Str("page_view", s.ID.String()).Msg("analytics ready")
	return nil
}

// Unload waits for tracker calls in flight, then sends the accumulated CWV
// values. Only the first call sends, and nothing is sent when no values
// were recorded.
func (s *Session) Unload(ctx context.Context) {
	s.unload.Do(func() {
		s.Wait()
		if s.tracker == nil || s.cwv.Len() == 0 {
			return
		}
		if err := s.tracker.TrackCWV(ctx, s.cwv.Snapshot()); err != nil {
			metrics.TransportFailures.WithLabelValues(KindCWV).Inc()
			zerolog.Ctx(ctx).Warn().Err(err).Msg("cwv flush failed")
		}
	})
}

func (s *Session) forward(ctx context.Context, kind string, send func() error) error {
	if s.tracker == nil {
		return nil
	}
	if err := send(); err != nil {
		metrics.TransportFailures.WithLabelValues(kind).Inc()
		return err
	}
	return nil
}
