package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackRelay/config"
	"github.com/BearBump/TrackRelay/internal/api/trackapi"
	"github.com/BearBump/TrackRelay/internal/broker/kafka"
	"github.com/BearBump/TrackRelay/internal/cache"
	"github.com/BearBump/TrackRelay/internal/cache/rediscache"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/failover"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/prober"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
	"github.com/BearBump/TrackRelay/internal/keepalive"
	"github.com/BearBump/TrackRelay/internal/services/tracking"
	"github.com/BearBump/TrackRelay/internal/storage/pglookups"
	"github.com/BearBump/TrackRelay/pkg/logger"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts
	deps   trackAPIDeps

	closers []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if p := os.Getenv("swaggerPath"); p != "" {
		cfg.Server.SwaggerPath = p
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)
	slog.SetDefault(log)

	reg, err := newRegistry(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("invalid upstream endpoints: %v", err))
	}
	dispatcher := failover.New(reg, nil, log)
	pr := prober.New(reg, nil, log).
		WithSettings(cfg.Upstream.ProbeInterval(), cfg.Upstream.ProbeTimeout(), cfg.Upstream.ProbePath)

	app := &trackAPIApp{}

	var (
		payloadCache cache.BytesCache
		limiter      trackapi.RateLimiter
	)
	if cfg.Redis.Host != "" {
		rc := rediscache.New(cfg.Redis.Addr())
		payloadCache = rc
		limiter = rediscache.NewRateLimiterWithClient(rc.Client())
		app.closers = append(app.closers, func() { _ = rc.Close() })
	}

	svc := tracking.New(dispatcher, payloadCache, time.Duration(cfg.Server.CacheTTLSeconds)*time.Second).
		WithLogger(log)

	var consumer lookupConsumer
	if cfg.Database.Host != "" {
		st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		app.closers = append(app.closers, st.Close)

		// History goes through Kafka only when something will consume it
		// back into Postgres.
		if cfg.Kafka.Host != "" {
			producer := kafka.NewProducer(cfg.Kafka.Brokers())
			c := kafka.NewConsumer(cfg.Kafka.Brokers(), cfg.Kafka.TrackingLookedUpTopic, cfg.Kafka.ConsumerGroup).
				WithLogger(log)
			consumer = c
			app.closers = append(app.closers, func() { _ = producer.Close() }, func() { _ = c.Close() })
			svc.WithHistory(producer, cfg.Kafka.TrackingLookedUpTopic, st)
		} else {
			svc.WithHistory(nil, "", st)
		}
	}

	api := trackapi.New(svc, reg, log).
		WithProber(pr).
		WithRateLimit(limiter, int64(cfg.Server.RateLimitPerMinute)).
		WithEnvironment(cfg.Server.Environment)

	var pinger selfPinger
	if cfg.KeepAlive.Enabled {
		pinger = keepalive.New(keepAliveURL(cfg), cfg.KeepAlive.Schedule, nil, log)
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = trackAPIOpts{
		httpAddr:      cfg.Server.HTTPAddr,
		swaggerPath:   cfg.Server.SwaggerPath,
		topic:         cfg.Kafka.TrackingLookedUpTopic,
		consumerGroup: cfg.Kafka.ConsumerGroup,
	}
	app.deps = trackAPIDeps{
		api:       api,
		svc:       svc,
		consumer:  consumer,
		prober:    pr,
		keepAlive: pinger,
		logger:    log,
	}
	return app
}

func newRegistry(cfg *config.Config, log *slog.Logger) (*registry.Registry, error) {
	descs := make([]registry.Descriptor, 0, len(cfg.Upstream.Endpoints))
	for _, ep := range cfg.Upstream.Endpoints {
		descs = append(descs, registry.Descriptor{
			ID:       ep.ID,
			Name:     ep.Name,
			BaseURL:  ep.URL,
			Priority: ep.Priority,
			Active:   ep.IsActive(),
		})
	}
	return registry.New(descs, registry.Policy{
		FailureThreshold: cfg.Upstream.FailureThreshold,
		Cooldown:         cfg.Upstream.Cooldown(),
		RequestTimeout:   cfg.Upstream.RequestTimeout(),
	}, log)
}

func keepAliveURL(cfg *config.Config) string {
	if cfg.KeepAlive.URL != "" {
		return cfg.KeepAlive.URL
	}
	host, port, err := net.SplitHostPort(cfg.Server.HTTPAddr)
	if err != nil {
		return "http://localhost:8080/api/health/ping"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/health/ping"
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pglookups.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := pglookups.New(ctx, connString)
		cancel()
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.deps)
}
