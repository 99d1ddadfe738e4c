package client

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.Timeout != 8*time.Second {
		t.Errorf("Timeout = %v, want 8s", p.Timeout)
	}
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", p.BaseDelay)
	}
	if p.Multiplier != 2 {
		t.Errorf("Multiplier = %v, want 2", p.Multiplier)
	}
	if p.RetryClientErrors {
		t.Error("RetryClientErrors should default to false")
	}
}

func TestNormalizeResource(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"orders", "orders"},
		{"/orders/", "orders"},
		{"orders/123", "orders/{id}"},
		{"orders/123/notes", "orders/{id}/notes"},
		{"orders/123/refunds/9", "orders/{id}/refunds/{id}"},
		{"orders/stats", "orders/stats"},
		{"orders/{id}", "orders/{id}"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeResource(tt.in); got != tt.want {
				t.Errorf("NormalizeResource(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_BuiltInRules(t *testing.T) {
	r := NewResolver(ResolverConfig{})

	tests := []struct {
		name         string
		resource     string
		method       string
		wantTimeout  time.Duration
		wantAttempts int
	}{
		{"list orders", "orders", "GET", 10 * time.Second, 3},
		{"get order", "orders/42", "GET", 10 * time.Second, 3},
		{"empty verb is GET", "orders/42", "", 10 * time.Second, 3},
		{"create order", "orders", "POST", 15 * time.Second, 3},
		{"update order", "orders/42", "PUT", 15 * time.Second, 2},
		{"stats", "orders/stats", "GET", 5 * time.Second, 2},
		{"list notes", "orders/42/notes", "GET", 8 * time.Second, 3},
		{"add note", "orders/42/notes", "POST", 10 * time.Second, 2},
		{"create refund", "orders/42/refunds", "post", 10 * time.Second, 2},
		{"unknown resource", "customers", "GET", 8 * time.Second, 3},
		{"unknown verb on known resource", "orders", "OPTIONS", 8 * time.Second, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Resolve(tt.resource, tt.method)
			if p.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", p.Timeout, tt.wantTimeout)
			}
			if p.MaxAttempts != tt.wantAttempts {
				t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, tt.wantAttempts)
			}
			if p.BaseDelay <= 0 || p.Multiplier < 1 || p.MaxDelay <= 0 {
				t.Errorf("policy has unset backoff fields: %+v", p)
			}
		})
	}
}

func TestResolver_CustomRulesFillDefaults(t *testing.T) {
	r := NewResolver(ResolverConfig{
		Rules: []Rule{
			{Resource: "/orders/stats/", Policy: Policy{Timeout: time.Second}},
		},
		Default: Policy{MaxAttempts: 5},
	})

	stats := r.Resolve("orders/stats", "GET")
	if stats.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", stats.Timeout)
	}
	if stats.MaxAttempts != DefaultPolicy().MaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", stats.MaxAttempts, DefaultPolicy().MaxAttempts)
	}

	other := r.Resolve("orders", "GET")
	if other.MaxAttempts != 5 {
		t.Errorf("fallback MaxAttempts = %d, want 5", other.MaxAttempts)
	}
	if other.Timeout != DefaultPolicy().Timeout {
		t.Errorf("fallback Timeout = %v, want %v", other.Timeout, DefaultPolicy().Timeout)
	}
}

func TestResolver_FirstMatchWins(t *testing.T) {
	r := NewResolver(ResolverConfig{
		Rules: []Rule{
			{Resource: "orders", Methods: []string{"*"}, Policy: Policy{Timeout: 2 * time.Second}},
			{Resource: "orders", Methods: []string{"GET"}, Policy: Policy{Timeout: 9 * time.Second}},
		},
	})

	if got := r.Resolve("orders", "GET").Timeout; got != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", got)
	}
}

type fixedLatency time.Duration

func (f fixedLatency) AverageResponseTime() time.Duration { return time.Duration(f) }

func TestResolver_AdaptiveTimeout(t *testing.T) {
	tests := []struct {
		name    string
		latency time.Duration
		want    time.Duration
	}{
		{"fast upstream keeps rule timeout", 500 * time.Millisecond, 5 * time.Second},
		{"slow upstream stretches timeout", 3 * time.Second, 9 * time.Second},
		{"stretch is capped", 20 * time.Second, 12 * time.Second},
		{"no observations", 0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(ResolverConfig{
				Latency:        fixedLatency(tt.latency),
				AdaptiveFactor: 3,
				MaxTimeout:     12 * time.Second,
			})

			if got := r.Resolve("orders/stats", "GET").Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolver_SetLatencySource(t *testing.T) {
	r := NewResolver(ResolverConfig{})
	r.SetLatencySource(fixedLatency(4*time.Second), 4)

	if got := r.Resolve("orders/stats", "GET").Timeout; got != 16*time.Second {
		t.Errorf("Timeout = %v, want 16s", got)
	}

	r.SetLatencySource(nil, 0)
	if got := r.Resolve("orders/stats", "GET").Timeout; got != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s after detaching", got)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
