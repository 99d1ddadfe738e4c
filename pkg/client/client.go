// Package client provides the resilient HTTP engine behind the order API
// client: per-resource timeout policies, bounded retries with exponential
// backoff, read-through response caching and write-driven cache invalidation.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/order-api-client/pkg/cache"
	"github.com/Sternrassler/order-api-client/pkg/logging"
)

// Recorder receives attempt outcomes and cache effectiveness. *monitor.Monitor satisfies it.
type Recorder interface {
	CallRecorder
	RecordCacheHit(resource string)
	RecordCacheMiss(resource string)
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the upstream REST API, e.g. "https://shop.example.com/wp-json/wc/v3".
	BaseURL string

	// HTTP Basic credentials for the upstream.
	ConsumerKey    string
	ConsumerSecret string

	UserAgent string

	// HTTPClient sends requests. Defaults to an *http.Client without a global timeout.
	HTTPClient Doer

	// Cache enables read-through caching of cacheable requests. Nil disables caching.
	Cache    cache.Store
	CacheTTL time.Duration

	// Recorder receives metrics. Nil discards them.
	Recorder Recorder

	// Resolver picks the policy per request. Nil uses the built-in rules.
	Resolver *Resolver
}

// DefaultConfig returns a configuration with the default user agent and cache TTL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "order-api-client/1.0",
		CacheTTL:  cache.DefaultTTL,
	}
}

// Client is the request engine shared by all typed operations.
type Client struct {
	exec     *Executor
	resolver *Resolver
	cache    cache.Store
	ttl      time.Duration
	recorder Recorder
	flight   singleflight.Group
	logger   zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if cfg.ConsumerSecret != "" && cfg.ConsumerKey == "" {
		return nil, fmt.Errorf("%w: consumer secret given without consumer key", ErrInvalidConfig)
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	exec, err := NewExecutor(ExecutorConfig{
		BaseURL:        cfg.BaseURL,
		UserAgent:      cfg.UserAgent,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		Doer:           cfg.HTTPClient,
		Recorder:       recorder,
	})
	if err != nil {
		return nil, err
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewResolver(ResolverConfig{})
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	return &Client{
		exec:     exec,
		resolver: resolver,
		cache:    cfg.Cache,
		ttl:      ttl,
		recorder: recorder,
		logger:   logging.NewLogger("order-client"),
	}, nil
}

// Resolver returns the policy resolver used by the client.
func (c *Client) Resolver() *Resolver {
	return c.resolver
}

// Do performs req with cache read-through for cacheable reads and tag
// invalidation after successful writes.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	policy := c.resolver.Resolve(req.Resource, req.method())

	if c.cache == nil || !req.cacheable() {
		resp, err := c.exec.Execute(ctx, req, policy)
		if err != nil {
			return nil, err
		}
		if len(req.Invalidates) > 0 {
			c.Invalidate(ctx, req.Invalidates...)
		}
		return resp, nil
	}

	key := req.cacheKey()
	resource := NormalizeResource(req.Resource)

	if resp, ok := c.lookup(ctx, key, resource); ok {
		return resp, nil
	}
	c.recorder.RecordCacheMiss(resource)

	// Identical concurrent misses share one upstream call. It runs detached from
	// any single caller's cancellation; the per-attempt timeouts still bound it.
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		resp, err := c.exec.Execute(shared, req, policy)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(shared, key, resp.Body, c.ttl, req.Tags...); err != nil {
			c.logger.Warn().Err(err).Str("cache_key", key.String()).Msg("Failed to cache response")
		}
		return resp, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &RequestExhaustedError{
			Resource:    req.Resource,
			Method:      req.method(),
			MaxAttempts: policy.MaxAttempts,
			Class:       ErrorClassCanceled,
			Cause:       ctx.Err(),
		}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		sharedResultsTotal.Inc()
	}

	v := res.Val
	out := *v.(*Response)
	return &out, nil
}

func (c *Client) lookup(ctx context.Context, key cache.Key, resource string) (*Response, bool) {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("cache_key", key.String()).Msg("Cache get error")
		}
		return nil, false
	}

	c.recorder.RecordCacheHit(resource)
	c.logger.Debug().Str("cache_key", key.String()).Msg("Served from cache")

	return &Response{
		StatusCode: 200,
		Body:       entry.Value,
		Cached:     true,
	}, true
}

// Invalidate drops every cache entry carrying any of tags and returns how
// many entries were removed. Failures are logged, not returned.
func (c *Client) Invalidate(ctx context.Context, tags ...string) int {
	if c.cache == nil {
		return 0
	}

	total := 0
	for _, tag := range tags {
		n, err := c.cache.Invalidate(ctx, tag)
		if err != nil {
			c.logger.Warn().Err(err).Str("tag", tag).Msg("Cache invalidation failed")
			continue
		}
		total += n
		invalidationsTotal.WithLabelValues(tagKind(tag)).Inc()
		c.logger.Debug().Str("tag", tag).Int("removed", n).Msg("Invalidated cache tag")
	}
	return total
}

// tagKind strips the identifier from tags like "order:12" to keep label cardinality low.
func tagKind(tag string) string {
	kind, _, _ := strings.Cut(tag, ":")
	return kind
}
