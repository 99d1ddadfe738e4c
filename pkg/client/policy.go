package client

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how a single logical request is attempted.
type Policy struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay"`

	// RetryClientErrors also retries 4xx responses other than 429.
	RetryClientErrors bool `yaml:"retry_client_errors"`
}

// DefaultPolicy is used for resources no rule matches.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     8 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPolicy so a resolved policy is always usable.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// newBackOff returns the deterministic delay schedule for this policy:
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	b := p.newBackOff()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Rule binds a Policy to a resource pattern and a set of HTTP methods.
type Rule struct {
	// Resource is a normalized resource pattern such as "orders/{id}/notes".
	Resource string `yaml:"resource" validate:"required"`

	// Methods lists the verbs the rule applies to. Empty or "*" matches any verb.
	Methods []string `yaml:"methods"`

	Policy Policy `yaml:"policy"`
}

func (r Rule) matches(resource, method string) bool {
	if r.Resource != resource {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

var (
	readMethods  = []string{http.MethodGet, http.MethodHead}
	writeMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
)

// DefaultRules are the built-in per-resource policies.
func DefaultRules() []Rule {
	with := func(timeout time.Duration, attempts int) Policy {
		p := DefaultPolicy()
		p.Timeout, p.MaxAttempts = timeout, attempts
		return p
	}

	return []Rule{
		{Resource: "orders/stats", Methods: []string{"*"}, Policy: with(5*time.Second, 2)},
		{Resource: "orders", Methods: readMethods, Policy: with(10*time.Second, 3)},
		{Resource: "orders", Methods: writeMethods, Policy: with(15*time.Second, 3)},
		{Resource: "orders/{id}", Methods: readMethods, Policy: with(10*time.Second, 3)},
		{Resource: "orders/{id}", Methods: writeMethods, Policy: with(15*time.Second, 2)},
		{Resource: "orders/{id}/notes", Methods: readMethods, Policy: with(8*time.Second, 3)},
		{Resource: "orders/{id}/notes", Methods: writeMethods, Policy: with(10*time.Second, 2)},
		{Resource: "orders/{id}/refunds", Methods: readMethods, Policy: with(8*time.Second, 3)},
		{Resource: "orders/{id}/refunds", Methods: writeMethods, Policy: with(10*time.Second, 2)},
	}
}

// NormalizeResource trims slashes and replaces numeric path segments with "{id}".
func NormalizeResource(resource string) string {
	resource = strings.Trim(resource, "/")
	if resource == "" {
		return resource
	}
	parts := strings.Split(resource, "/")
	for i, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// LatencySource reports the observed mean upstream latency.
type LatencySource interface {
	AverageResponseTime() time.Duration
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Rules are evaluated in order; the first match wins. Nil means DefaultRules().
	Rules []Rule

	// Default applies when no rule matches. Zero fields come from DefaultPolicy().
	Default Policy

	// Latency enables adaptive timeouts when set together with AdaptiveFactor > 0.
	Latency        LatencySource
	AdaptiveFactor float64

	// MaxTimeout caps adaptive stretching. Zero means 30s.
	MaxTimeout time.Duration
}

// Resolver maps (resource, method) to a Policy.
type Resolver struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback Policy

	latency    LatencySource
	factor     float64
	maxTimeout time.Duration
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	normalized := make([]Rule, len(rules))
	for i, r := range rules {
		r.Resource = NormalizeResource(r.Resource)
		r.Policy = r.Policy.withDefaults()
		normalized[i] = r
	}

	maxTimeout := cfg.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = 30 * time.Second
	}

	return &Resolver{
		rules:      normalized,
		fallback:   cfg.Default.withDefaults(),
		latency:    cfg.Latency,
		factor:     cfg.AdaptiveFactor,
		maxTimeout: maxTimeout,
	}
}

// SetLatencySource attaches (or detaches with nil) the adaptive latency source.
func (r *Resolver) SetLatencySource(src LatencySource, factor float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = src
	r.factor = factor
}

// Resolve never fails and never returns a zero Policy.
func (r *Resolver) Resolve(resource, method string) Policy {
	resource = NormalizeResource(resource)
	if method == "" {
		method = http.MethodGet
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	policy := r.fallback
	for _, rule := range r.rules {
		if rule.matches(resource, method) {
			policy = rule.Policy
			break
		}
	}

	return r.adapt(policy)
}

func (r *Resolver) adapt(p Policy) Policy {
	if r.latency == nil || r.factor <= 0 {
		return p
	}
	avg := r.latency.AverageResponseTime()
	if avg <= 0 {
		return p
	}

	stretched := time.Duration(r.factor * float64(avg))
	if stretched <= p.Timeout {
		return p
	}
	if stretched > r.maxTimeout {
		stretched = r.maxTimeout
	}
	if stretched > p.Timeout {
		p.Timeout = stretched
	}
	return p
}
