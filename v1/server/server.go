// Package server exposes the lookup service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mirkobrombin/warp-aqi/v1/lookup"
	"github.com/mirkobrombin/warp-aqi/v1/watchbus"
)

// Searcher is the part of lookup.Service the HTTP layer depends on.
type Searcher interface {
	Search(ctx context.Context, city string) (lookup.Result, error)
	Info() lookup.Info
	Size() int
	Clear()
}

// Timeouts configures the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts mirrors the values used when nothing is configured.
var DefaultTimeouts = Timeouts{
	Read:     5 * time.Second,
	Write:    15 * time.Second,
	Idle:     60 * time.Second,
	Shutdown: 10 * time.Second,
}

// Server routes HTTP requests to a Searcher.
type Server struct {
	search     Searcher
	logger     zerolog.Logger
	gatherer   prometheus.Gatherer
	bus        watchbus.WatchBus
	streamOpts []watchbus.HandlerOption
	origins    []string
	timeouts   Timeouts
	now        func() time.Time

	// closing is canceled when shutdown starts so event streams end
	// instead of holding Shutdown until its deadline.
	closing context.Context
	close   context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithEvents mounts the SSE and WebSocket cache event streams backed by bus.
func WithEvents(bus watchbus.WatchBus, opts ...watchbus.HandlerOption) Option {
	return func(s *Server) {
		s.bus = bus
		s.streamOpts = opts
	}
}

// WithAllowedOrigins sets the CORS origins. "*" allows any origin, which
// is also the default.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// New creates a Server.
func New(search Searcher, opts ...Option) *Server {
	s := &Server{
		search:   search,
		logger:   zerolog.Nop(),
		origins:  []string{"*"},
		timeouts: DefaultTimeouts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.closing, s.close = context.WithCancel(context.Background())
	return s
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	// Match on the escaped path so an encoded slash stays inside {city}.
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/search/{city}", s.searchCity).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/info", s.cacheInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/clear", s.cacheClear).Methods(http.MethodDelete)
	if s.bus != nil {
		opts := s.streamOpts
		if slices.Contains(s.origins, "*") {
			opts = append(slices.Clone(opts), watchbus.WithCheckOrigin(func(*http.Request) bool { return true }))
		}
		r.Handle("/api/cache/events", s.stream(watchbus.SSEHandler(s.bus, lookup.Topic, opts...))).Methods(http.MethodGet)
		r.Handle("/api/cache/events/ws", s.stream(watchbus.WebSocketHandler(s.bus, lookup.Topic, opts...))).Methods(http.MethodGet)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(notFound)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{cacheHeader, requestIDHeader}),
	)
	var h http.Handler = cors(r)
	h = traced(h)
	h = handlers.CustomLoggingHandler(nil, h, s.logAccess)
	h = requestID(h)
	return s.recoverer(h)
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.timeouts.Read,
		ReadTimeout:       s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server starting")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	s.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// stream lifts the connection deadlines for long lived responses and ends
// them when the server starts shutting down.
func (s *Server) stream(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.closing, cancel)
		defer stop()
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
