package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/order-api-client/pkg/cache"
	"github.com/Sternrassler/order-api-client/pkg/client"
	"github.com/Sternrassler/order-api-client/pkg/config"
	"github.com/Sternrassler/order-api-client/pkg/logging"
	"github.com/Sternrassler/order-api-client/pkg/monitor"
	"github.com/Sternrassler/order-api-client/pkg/orders"
	"github.com/Sternrassler/order-api-client/pkg/ratelimit"
	"github.com/Sternrassler/order-api-client/pkg/webhook"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	monitor *monitor.Monitor
	history *monitor.SQLiteSink
	redis   *redis.Client
	client  *client.Client
	orders  *orders.Service
	webhook *webhook.Handler
	closers []func() error
}

// newApp builds the component graph described by cfg. Monitor collectors
// are registered on reg when it is non-nil.
func newApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger("orders-proxy"),
	}

	sinks := []monitor.Sink{monitor.NewLogSink(logging.NewLogger("monitor-snapshot"))}
	if cfg.Monitor.SQLitePath != "" {
		history, err := monitor.NewSQLiteSink(ctx, cfg.Monitor.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init snapshot history: %w", err)
		}
		a.history = history
		a.closers = append(a.closers, history.Close)
		sinks = append(sinks, history)
	}
	a.monitor = monitor.New(monitor.Config{
		FlushInterval: cfg.Monitor.FlushInterval,
		Registerer:    reg,
		Sinks:         sinks,
	})

	if cfg.NeedsRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)

		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	var store cache.Store
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		mem := cache.NewMemoryStore(cache.MemoryConfig{
			MaxEntries:    cfg.Cache.MaxEntries,
			SweepInterval: cfg.Cache.SweepInterval,
		})
		a.closers = append(a.closers, mem.Close)
		store = mem
	case config.CacheRedis:
		store = cache.NewRedisStore(a.redis)
	}

	c, err := client.New(client.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		ConsumerKey:    cfg.Upstream.ConsumerKey,
		ConsumerSecret: cfg.Upstream.ConsumerSecret,
		UserAgent:      cfg.Upstream.UserAgent,
		Cache:          store,
		CacheTTL:       cfg.Cache.TTL,
		Recorder:       a.monitor,
		Resolver:       cfg.ClientResolver(a.monitor),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create order client: %w", err)
	}
	a.client = c

	svcCfg := orders.Config{
		Recorder: a.monitor,
		Pages:    cfg.Pagination,
	}
	if cfg.Limiter.Enabled {
		svcCfg.Limiter = ratelimit.NewLimiter(a.redis, cfg.Limiter.Limit, logging.NewLogger("order-limiter"))
	}
	a.orders = orders.NewService(c, svcCfg)
	a.webhook = webhook.NewHandler(cfg.Webhook, c, a.monitor)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// routes returns the proxy's HTTP surface. metrics serves /metrics.
func (a *app) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /summary", summaryHandler(a.monitor))

	mux.HandleFunc("GET /orders", listOrdersHandler(a.orders))
	mux.HandleFunc("POST /orders", createOrderHandler(a.orders))
	mux.HandleFunc("GET /orders/stats", orderStatsHandler(a.orders))
	mux.HandleFunc("GET /orders/{id}", getOrderHandler(a.orders))
	mux.HandleFunc("PUT /orders/{id}", updateOrderHandler(a.orders))
	mux.HandleFunc("GET /orders/{id}/notes", listNotesHandler(a.orders))
	mux.HandleFunc("POST /orders/{id}/notes", addNoteHandler(a.orders))
	mux.HandleFunc("GET /orders/{id}/refunds", listRefundsHandler(a.orders))
	mux.HandleFunc("POST /orders/{id}/refunds", createRefundHandler(a.orders))

	mux.Handle("/webhooks/orders", a.webhook)
	return mux
}
