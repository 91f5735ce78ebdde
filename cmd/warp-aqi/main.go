// Command warp-aqi serves air quality lookups backed by a bounded,
// expiring cache in front of the AQICN API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/warp-aqi/v1/cache"
	"github.com/mirkobrombin/warp-aqi/v1/config"
	"github.com/mirkobrombin/warp-aqi/v1/lookup"
	"github.com/mirkobrombin/warp-aqi/v1/metrics"
	"github.com/mirkobrombin/warp-aqi/v1/server"
	"github.com/mirkobrombin/warp-aqi/v1/upstream"
	"github.com/mirkobrombin/warp-aqi/v1/watchbus"
)

var configPath = flag.String("config", os.Getenv(config.FileEnv), "Path to a YAML or JSON config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("warp-aqi stopped")
	}
	log.Info().Msg("bye")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupTracing(cfg config.TracingConfig) (func(context.Context) error, error) {
	if cfg.Exporter != "stdout" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Logger

	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.Register(reg)

	bus := watchbus.NewInMemory()
	events := lookup.NewEvents(bus, logger)

	store, err := cache.New[*upstream.Report](cfg.CacheTTL(), cfg.Cache.MaxEntries,
		cache.WithMetrics[*upstream.Report](reg),
		cache.WithOnEvict(events.OnEvict),
	)
	if err != nil {
		return err
	}

	if cfg.Upstream.Token == "" {
		logger.Warn().Msg("AQICN_API_KEY is not set, upstream requests will be rejected")
	}
	var provider upstream.Provider = upstream.NewAQICN(cfg.Upstream.Token,
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithTimeout(cfg.Upstream.Timeout),
	)
	if cfg.Upstream.RetryAttempts > 1 {
		provider = upstream.NewRetrying(provider, cfg.Upstream.RetryAttempts, cfg.Upstream.RetryDelay)
	}
	if cfg.Upstream.BreakerFailures > 0 {
		provider = upstream.NewBreaker(provider, cfg.Upstream.BreakerFailures, cfg.Upstream.BreakerTimeout, logger)
	}

	svc := lookup.New(store, provider,
		lookup.WithLogger(logger),
		lookup.WithMetrics(m),
		lookup.WithEvents(events),
	)

	srv := server.New(svc,
		server.WithLogger(logger),
		server.WithGatherer(reg),
		server.WithEvents(bus, watchbus.WithWatcherGauge(m.WatcherGauge)),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	logger.Info().
		Int("max_entries", cfg.Cache.MaxEntries).
		Float64("expiry_minutes", cfg.Cache.ExpiryMinutes).
		Str("addr", cfg.Addr()).
		Msg("starting warp-aqi")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Addr())
	})
	g.Go(func() error {
		// Flushes pending spans once a signal arrives or the server fails.
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			return fmt.Errorf("tracer shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
