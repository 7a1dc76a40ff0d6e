package analytics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// subscriberBuffer is the per-subscriber backlog before envelopes are
// dropped for that subscriber.
const subscriberBuffer = 32

// broadcaster fans stored envelopes out to live subscribers.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Envelope]struct{}
}

func (b *broadcaster) subscribe() chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[chan Envelope]struct{})
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, ch)
}

// publish never blocks; a full subscriber misses the envelope.
func (b *broadcaster) publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
}

// SSEWriter writes Server-Sent Events to an http.ResponseWriter.
// Call Init once before writing any events to set the required headers.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter creates a new SSEWriter wrapping the given ResponseWriter.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

// Init sets the SSE response headers and flushes them to the client.
func (sw *SSEWriter) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	sw.w.WriteHeader(http.StatusOK)
	_ = sw.rc.Flush()
}

// WriteEnvelope writes env as one "data: {json}" frame and flushes it.
func (sw *SSEWriter) WriteEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("sse: marshal envelope: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("sse: write envelope: %w", err)
	}
	_ = sw.rc.Flush()
	return nil
}

// StreamEvent is one envelope read from a stream, or the error that
// replaced it.
type StreamEvent struct {
	Envelope Envelope
	Err      error
}

// ReadEvents parses SSE frames from body and delivers them on the returned
// channel. The channel closes when the body is exhausted or ctx is done;
// the body is closed when reading finishes. Comment lines and unknown
// fields are ignored, and multiple data lines of one event are joined with
// newlines. Malformed JSON yields a StreamEvent with Err set.
func ReadEvents(ctx context.Context, body io.ReadCloser) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		var data strings.Builder
		flush := func() bool {
			if data.Len() == 0 {
				return true
			}
			ev := decodeStreamEvent(data.String())
			data.Reset()
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		flush()
	}()
	return ch
}

func decodeStreamEvent(raw string) StreamEvent {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return StreamEvent{Err: fmt.Errorf("sse: unmarshal envelope: %w", err)}
	}
	return StreamEvent{Envelope: env}
}

// Tail subscribes to the collector at endpoint and streams the envelopes it
// stores from now on, optionally only those of kind.
func Tail(ctx context.Context, hc *http.Client, endpoint, kind string) (<-chan StreamEvent, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	u := strings.TrimRight(endpoint, "/") + "/events/stream"
	if kind != "" {
		u += "?kind=" + url.QueryEscape(kind)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("analytics: tail: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: tail: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: tail: %d", ErrStatus, resp.StatusCode)
	}
	return ReadEvents(ctx, resp.Body), nil
}
