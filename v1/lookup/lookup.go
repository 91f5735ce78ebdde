// Package lookup answers air quality searches from the bounded cache and
// falls back to the upstream provider on a miss.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mirkobrombin/warp-aqi/v1/cache"
	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
	"github.com/mirkobrombin/warp-aqi/v1/metrics"
	"github.com/mirkobrombin/warp-aqi/v1/upstream"
)

var tracer = otel.Tracer("github.com/mirkobrombin/warp-aqi/v1/lookup")

// Store is the cache the service reads from and fills.
type Store interface {
	cache.Cache[*upstream.Report]
	Limits() cache.Limits
}

// Service orchestrates the cache and the upstream provider.
//
// Concurrent misses for the same city each reach the provider; the last
// successful fetch wins the cache slot.
type Service struct {
	store    Store
	provider upstream.Provider
	events   *Events
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics enables the service level Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents publishes "stored" events for every fetched report.
func WithEvents(e *Events) Option {
	return func(s *Service) { s.events = e }
}

// New creates a Service.
func New(store Store, provider upstream.Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a successful search.
type Result struct {
	Report *upstream.Report
	// Hit is true when the report came from the cache.
	Hit bool
}

// NormalizeKey returns the cache key for a city name.
func NormalizeKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Search returns the report for city.
//
// Blank names fail with errors.ErrInvalidKey. Provider errors are returned
// as is and nothing is cached for them.
func (s *Service) Search(ctx context.Context, city string) (Result, error) {
	ctx, span := tracer.Start(ctx, "lookup.Search")
	defer span.End()

	city = strings.TrimSpace(city)
	if city == "" {
		s.count(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "blank city")
		return Result{}, fmt.Errorf("%w: city name is required", warperrors.ErrInvalidKey)
	}
	key := NormalizeKey(city)
	span.SetAttributes(attribute.String("warp.lookup.key", key))

	if r, ok := s.store.Get(key); ok {
		s.count(metrics.ResultHit)
		span.SetAttributes(attribute.String("warp.cache.result", "hit"))
		s.logger.Debug().Str("city", city).Msg("cache hit")
		return Result{Report: r, Hit: true}, nil
	}
	span.SetAttributes(attribute.String("warp.cache.result", "miss"))
	s.logger.Info().Str("city", city).Msg("fetching data")

	start := time.Now()
	r, err := s.provider.Fetch(ctx, city)
	latency := time.Since(start)
	if s.metrics != nil {
		s.metrics.UpstreamLatency.Observe(latency.Seconds())
	}
	span.SetAttributes(attribute.Int64("warp.upstream.latency_ms", latency.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, warperrors.ErrNotFound) {
			s.count(metrics.ResultNotFound)
			s.logger.Info().Str("city", city).Err(err).Msg("city not found upstream")
		} else {
			s.count(metrics.ResultError)
			s.logger.Error().Str("city", city).Err(err).Dur("duration", latency).Msg("upstream fetch failed")
		}
		return Result{}, err
	}

	s.store.Put(key, r)
	s.count(metrics.ResultMiss)
	if s.events != nil {
		s.events.Stored(key, r)
	}
	return Result{Report: r}, nil
}

// Info describes the cache occupancy and limits.
type Info struct {
	Size          int     `json:"size"`
	MaxEntries    int     `json:"maxEntries"`
	ExpiryMinutes float64 `json:"expiryMinutes"`
}

// Info returns the current cache occupancy and its configured limits.
// Size counts expired entries that have not been read since expiring.
func (s *Service) Info() Info {
	l := s.store.Limits()
	return Info{
		Size:          s.store.Size(),
		MaxEntries:    l.MaxEntries,
		ExpiryMinutes: l.TTL.Minutes(),
	}
}

// Size returns the number of entries physically held by the cache.
func (s *Service) Size() int {
	return s.store.Size()
}

// Clear empties the cache.
func (s *Service) Clear() {
	n := s.store.Size()
	s.store.Clear()
	if s.metrics != nil {
		s.metrics.ClearCounter.Inc()
	}
	s.logger.Info().Int("entries", n).Msg("cache cleared")
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.SearchCounter.WithLabelValues(result).Inc()
	}
}
