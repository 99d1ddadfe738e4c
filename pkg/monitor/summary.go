package monitor

import (
	"fmt"
	"time"
)

// Thresholds below (or above, for latency) which Summary emits a recommendation.
const (
	MinAPISuccessRate     = 95.0
	MinCacheHitRate       = 80.0
	MaxAvgResponseTimeMs  = 2000.0
	MinWebhookSuccessRate = 95.0
)

// Summary is a point-in-time view of the derived rates.
type Summary struct {
	Uptime               time.Duration `json:"uptime"`
	APISuccessRate       float64       `json:"api_success_rate"`
	CacheHitRate         float64       `json:"cache_hit_rate"`
	OrderSuccessRate     float64       `json:"order_success_rate"`
	WebhookSuccessRate   float64       `json:"webhook_success_rate"`
	AvgResponseTimeMs    float64       `json:"avg_response_time_ms"`
	AvgOrderProcessingMs float64       `json:"avg_order_processing_ms"`
	Counters             Counters      `json:"counters"`
	Recommendations      []string      `json:"recommendations"`
}

// Snapshot is what the flush loop hands to sinks.
type Snapshot struct {
	TakenAt time.Time                `json:"taken_at"`
	Summary Summary                  `json:"summary"`
	Series  map[string][]MetricEntry `json:"series,omitempty"`
}

// percent returns part/total as a percentage, or 0 when total is 0.
func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Summary computes rates and recommendations from the current counters.
func (m *Monitor) Summary() Summary {
	if m == nil {
		return Summary{Recommendations: []string{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryLocked()
}

func (m *Monitor) summaryLocked() Summary {
	c := m.counters
	s := Summary{
		Uptime:               m.now().Sub(m.started),
		APISuccessRate:       percent(c.APICallsSuccess, c.APICallsTotal),
		CacheHitRate:         percent(c.CacheHits, c.CacheHits+c.CacheMisses),
		OrderSuccessRate:     percent(c.OrdersCreated, c.OrdersCreated+c.OrdersFailed),
		WebhookSuccessRate:   percent(c.WebhooksProcessed, c.WebhooksReceived),
		AvgResponseTimeMs:    c.AvgResponseTimeMs,
		AvgOrderProcessingMs: c.AvgOrderProcessingMs,
		Counters:             c,
	}
	s.Recommendations = recommendations(s)
	return s
}

// recommendations applies the fixed thresholds. A rate is only judged once
// something has been counted for it.
func recommendations(s Summary) []string {
	c := s.Counters
	recs := []string{}

	if c.APICallsTotal > 0 && s.APISuccessRate < MinAPISuccessRate {
		recs = append(recs, fmt.Sprintf(
			"API success rate is %.1f%% (below %.0f%%): check upstream availability and retry policy",
			s.APISuccessRate, MinAPISuccessRate))
	}
	if c.CacheHits+c.CacheMisses > 0 && s.CacheHitRate < MinCacheHitRate {
		recs = append(recs, fmt.Sprintf(
			"Cache hit rate is %.1f%% (below %.0f%%): consider longer TTLs or warming frequently read lists",
			s.CacheHitRate, MinCacheHitRate))
	}
	if c.APICallsTotal > 0 && s.AvgResponseTimeMs > MaxAvgResponseTimeMs {
		recs = append(recs, fmt.Sprintf(
			"Average response time is %.0fms (above %.0fms): reduce requested fields or page size",
			s.AvgResponseTimeMs, MaxAvgResponseTimeMs))
	}
	if c.OrdersLimitExceeded > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d order creations hit the per-customer limit: review the limit or investigate abusive clients",
			c.OrdersLimitExceeded))
	}
	if c.WebhooksReceived > 0 && s.WebhookSuccessRate < MinWebhookSuccessRate {
		recs = append(recs, fmt.Sprintf(
			"Webhook success rate is %.1f%% (below %.0f%%): verify the webhook secret and handler errors",
			s.WebhookSuccessRate, MinWebhookSuccessRate))
	}

	return recs
}

// Snapshot captures the summary together with a copy of every series.
func (m *Monitor) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{TakenAt: time.Now(), Summary: Summary{Recommendations: []string{}}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	series := make(map[string][]MetricEntry, len(m.series))
	for name, r := range m.series {
		if r.len() == 0 {
			continue
		}
		series[name] = r.entries()
	}

	return Snapshot{
		TakenAt: m.now(),
		Summary: m.summaryLocked(),
		Series:  series,
	}
}
