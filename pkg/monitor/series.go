package monitor

import "time"

// SeriesCapacity bounds every named series to its most recent entries.
const SeriesCapacity = 1000

// Series names recorded by the monitor.
const (
	SeriesAPIResponseTime   = "api_response_time"
	SeriesOrderProcessing   = "order_processing_time"
	SeriesOrderFailures     = "order_failures"
	SeriesOrderLimit        = "order_limit_exceeded"
	SeriesWebhookProcessing = "webhook_processing_time"
	SeriesWebhookFailures   = "webhook_failures"
)

// MetricEntry is one point in a named series.
type MetricEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ring is a fixed-capacity FIFO; appending to a full ring overwrites the oldest entry.
type ring struct {
	buf   []MetricEntry
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]MetricEntry, capacity)}
}

func (r *ring) append(e MetricEntry) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns a copy, oldest first.
func (r *ring) entries() []MetricEntry {
	out := make([]MetricEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.size
}
