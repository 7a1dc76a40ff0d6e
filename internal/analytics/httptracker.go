package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dusk-indust/pageboot/internal/conversion"
	"github.com/dusk-indust/pageboot/internal/rum"
)

// ErrStatus is wrapped by errors for non-2xx collector responses.
var ErrStatus = errors.New("analytics: unexpected status")

// HTTPTracker posts envelopes to a collector endpoint.
type HTTPTracker struct {
	http     *http.Client
	endpoint string
	pageView string
}

// TrackerOption configures an HTTPTracker.
type TrackerOption func(*HTTPTracker)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *HTTPTracker) {
		t.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) TrackerOption {
	return func(t *HTTPTracker) {
		t.http = hc
	}
}

// NewHTTPTracker creates a tracker for the collector at endpoint (its base
// URL) tagging every call with pageView.
func NewHTTPTracker(endpoint, pageView string, opts ...TrackerOption) *HTTPTracker {
	t := &HTTPTracker{
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
		endpoint: strings.TrimRight(endpoint, "/"),
		pageView: pageView,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTracker) TrackConversion(ctx context.Context, ev conversion.Event) error {
	return t.post(ctx, Envelope{Kind: KindConversion, PageView: t.pageView, SentAt: time.Now().UTC(), Conversion: &ev})
}

func (t *HTTPTracker) TrackNotFound(ctx context.Context, data rum.Data) error {
	return t.post(ctx, envelopeFor(KindNotFound, t.pageView, data))
}

func (t *HTTPTracker) TrackError(ctx context.Context, data rum.Data) error {
	return t.post(ctx, envelopeFor(KindError, t.pageView, data))
}

func (t *HTTPTracker) TrackCWV(ctx context.Context, values map[string]float64) error {
	return t.post(ctx, Envelope{Kind: KindCWV, PageView: t.pageView, SentAt: time.Now().UTC(), CWV: values})
}

// Ping checks that the collector answers its health endpoint.
func (t *HTTPTracker) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("analytics: create request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("analytics: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping: HTTP %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// post sends one envelope to <endpoint>/events.
func (t *HTTPTracker) post(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("analytics: marshal %s: %w", env.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analytics: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("analytics: %s: %w", env.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrStatus, env.Kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
