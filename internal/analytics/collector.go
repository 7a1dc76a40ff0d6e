package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dusk-indust/pageboot/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps the size of a posted envelope.
const maxBodyBytes int64 = 1 << 20

// Collector is the HTTP endpoint receiving tracker envelopes.
type Collector struct {
	store  *EventStore
	logger zerolog.Logger
	http   *http.Server

	stream   broadcaster
	stopping chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector storing into store. A nil store gets a
// fresh EventStore.
func NewCollector(store *EventStore, logger zerolog.Logger) *Collector {
	if store == nil {
		store = NewEventStore()
	}
	return &Collector{store: store, logger: logger, stopping: make(chan struct{})}
}

// Store returns the collector's event store.
func (c *Collector) Store() *EventStore { return c.store }

// Handler returns the collector's routes:
//
//	POST /events   store an envelope
//	GET  /events   list envelopes (?kind=, ?limit=)
//	GET  /events/stream  live envelopes as Server-Sent Events (?kind=)
//	GET  /healthz  liveness
//	GET  /metrics  Prometheus exposition
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(c.requestLogger)
	r.Use(MetricsMiddleware)

	r.Post("/events", c.handlePostEvent)
	r.Get("/events", c.handleListEvents)
	r.Get("/events/stream", c.handleStream)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start listens on addr and serves in a background goroutine. It returns
// the bound address, which differs from addr when addr uses port 0.
func (c *Collector) Start(ctx context.Context, addr string) (string, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	c.http = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := c.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("collector stopped")
		}
	}()
	c.logger.Info().Str("addr", ln.Addr().String()).Msg("collector listening")
	return ln.Addr().String(), nil
}

// Stop ends open streams and gracefully shuts down the HTTP server.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopping) })
	if c.http == nil {
		return nil
	}
	return c.http.Shutdown(ctx)
}

func (c *Collector) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}
	if !knownKind(env.Kind) {
		writeError(w, http.StatusBadRequest, "unknown kind "+strconv.Quote(env.Kind))
		return
	}
	if env.SentAt.IsZero() {
		env.SentAt = time.Now().UTC()
	}

	id, err := c.store.Add(env)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	metrics.CollectorEvents.WithLabelValues(env.Kind).Inc()
	c.stream.publish(env)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (c *Collector) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events := c.store.List(r.URL.Query().Get("kind"), limit)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (c *Collector) handleStream(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && !knownKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown kind "+strconv.Quote(kind))
		return
	}

	sub := c.stream.subscribe()
	defer c.stream.unsubscribe(sub)

	sw := NewSSEWriter(w)
	sw.Init()
	zerolog.Ctx(r.Context()).Debug().Str("kind", kind).Msg("stream opened")
	for {
		select {
		case env := <-sub:
			if kind != "" && env.Kind != kind {
				continue
			}
			if err := sw.WriteEnvelope(env); err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("stream closed")
				return
			}
		case <-r.Context().Done():
			return
		case <-c.stopping:
			return
		}
	}
}

// requestLogger attaches the collector logger, tagged with the chi request
// id, to the request context and logs each completed request at debug.
func (c *Collector) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := c.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func knownKind(kind string) bool {
	switch kind {
	case KindConversion, KindNotFound, KindError, KindCWV:
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus. Mounted inside a
// chi router it labels by route pattern rather than raw path.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		path := routePatternOrPath(r)
		status := strconv.Itoa(sr.status)
		metrics.HTTPRequests.WithLabelValues(path, r.Method, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// the URL path.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
