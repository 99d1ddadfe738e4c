package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/order-api-client/pkg/cache"
	"github.com/Sternrassler/order-api-client/pkg/monitor"
)

const testSecret = "whsec_test"

type fakeInvalidator struct {
	mu   sync.Mutex
	tags []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, tags ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tags...)
	return len(tags)
}

func delivery(topic, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if topic != "" {
		req.Header.Set(HeaderTopic, topic)
	}
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}
	req.Header.Set(HeaderDeliveryID, "d-1")
	return req
}

func signed(topic, body string) *http.Request {
	return delivery(topic, body, Sign([]byte(testSecret), []byte(body)))
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"id":1}`)
	sig := Sign([]byte(testSecret), body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid", testSecret, body, sig, true},
		{"tampered body", testSecret, []byte(`{"id":2}`), sig, false},
		{"wrong secret", "other", body, sig, false},
		{"missing signature", testSecret, body, "", false},
		{"not base64", testSecret, body, "%%%", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify([]byte(tt.secret), tt.body, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTags(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		body    string
		want    []string
		wantErr error
	}{
		{"created", "order.created", `{"id":5,"customer_id":7}`, []string{"orders", "customer:7"}, nil},
		{"created guest", "order.created", `{"id":5,"customer_id":0}`, []string{"orders"}, nil},
		{"updated", "order.updated", `{"id":5,"customer_id":7}`, []string{"orders", "order:5", "customer:7"}, nil},
		{"deleted", "order.deleted", `{"id":5}`, []string{"orders", "order:5"}, nil},
		{"restored", "order.restored", `{"id":5}`, []string{"orders", "order:5"}, nil},
		{"product topic", "product.updated", `{"id":5}`, nil, ErrUnsupportedTopic},
		{"unknown event", "order.archived", `{"id":5}`, nil, ErrUnsupportedTopic},
		{"no event", "order", `{"id":5}`, nil, ErrUnsupportedTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tags(tt.topic, []byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Tags("order.updated", []byte(`{"customer_id":7}`))
	assert.Error(t, err, "updates need an order id")

	_, err = Tags("order.created", []byte(`not json`))
	assert.Error(t, err)
}

func TestHandler_AppliesDelivery(t *testing.T) {
	inv := &fakeInvalidator{}
	mon := monitor.New(monitor.Config{Registerer: prometheus.NewRegistry()})
	h := NewHandler(Config{Secret: testSecret}, inv, mon)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signed("order.updated", `{"id":12,"customer_id":3,"status":"completed"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"orders", "order:12", "customer:3"}, inv.tags)

	var resp struct {
		Invalidated int      `json:"invalidated"`
		Tags        []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Invalidated)

	counters := mon.Counters()
	assert.Equal(t, int64(1), counters.WebhooksReceived)
	assert.Equal(t, int64(1), counters.WebhooksProcessed)
	assert.Zero(t, counters.WebhooksFailed)
}

func TestHandler_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"bad signature", func() *http.Request {
			return delivery("order.created", `{"id":1}`, Sign([]byte("wrong"), []byte(`{"id":1}`)))
		}, http.StatusUnauthorized},
		{"missing signature", func() *http.Request {
			return delivery("order.created", `{"id":1}`, "")
		}, http.StatusUnauthorized},
		{"unsupported topic", func() *http.Request {
			return signed("coupon.created", `{"id":1}`)
		}, http.StatusBadRequest},
		{"malformed payload", func() *http.Request {
			return signed("order.created", `{"id":`)
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvalidator{}
			mon := monitor.New(monitor.Config{})
			h := NewHandler(Config{Secret: testSecret}, inv, mon)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())

			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, inv.tags)
			assert.Equal(t, int64(1), mon.Counters().WebhooksFailed)
			assert.Zero(t, mon.Counters().WebhooksProcessed)
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(Config{}, &fakeInvalidator{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/orders", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHandler_Ping(t *testing.T) {
	inv := &fakeInvalidator{}
	mon := monitor.New(monitor.Config{})
	h := NewHandler(Config{Secret: testSecret}, inv, mon)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, delivery("", "webhook_id=15", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, inv.tags)
	assert.Zero(t, mon.Counters().WebhooksReceived)
}

func TestHandler_PayloadTooLarge(t *testing.T) {
	mon := monitor.New(monitor.Config{})
	h := NewHandler(Config{MaxBodyBytes: 16}, &fakeInvalidator{}, mon)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, delivery("order.created", `{"id":1,"customer_id":7,"note":"padding"}`, ""))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	counters := mon.Counters()
	assert.Equal(t, int64(1), counters.WebhooksReceived)
	assert.Equal(t, int64(1), counters.WebhooksFailed)
	assert.LessOrEqual(t, counters.WebhooksFailed, counters.WebhooksReceived)
}

func TestHandler_UnsignedWhenNoSecret(t *testing.T) {
	inv := &fakeInvalidator{}
	h := NewHandler(Config{}, inv, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, delivery("order.created", `{"id":1}`, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"orders"}, inv.tags)
}

// cacheInvalidator drives a real store the way *client.Client does.
type cacheInvalidator struct {
	store cache.Store
}

func (c cacheInvalidator) Invalidate(ctx context.Context, tags ...string) int {
	total := 0
	for _, tag := range tags {
		n, _ := c.store.Invalidate(ctx, tag)
		total += n
	}
	return total
}

func TestHandler_DropsCachedEntries(t *testing.T) {
	store := cache.NewMemoryStore(cache.MemoryConfig{MaxEntries: 10})
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, cache.NewKey("orders/12", "get", nil), []byte(`{}`), time.Minute, "orders", "order:12"))
	require.NoError(t, store.Set(ctx, cache.NewKey("orders/13", "get", nil), []byte(`{}`), time.Minute, "order:13"))

	h := NewHandler(Config{Secret: testSecret}, cacheInvalidator{store: store}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signed("order.updated", `{"id":12}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, cache.NewKey("orders/12", "get", nil))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestNewHandler_PanicsWithoutInvalidator(t *testing.T) {
	assert.Panics(t, func() { NewHandler(Config{}, nil, nil) })
}
