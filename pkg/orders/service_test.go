package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/order-api-client/internal/testutil"
	"github.com/Sternrassler/order-api-client/pkg/cache"
	"github.com/Sternrassler/order-api-client/pkg/client"
	"github.com/Sternrassler/order-api-client/pkg/monitor"
	"github.com/Sternrassler/order-api-client/pkg/ratelimit"
)

// fastRules keeps the built-in attempt counts but shrinks every wait.
func fastRules(timeout time.Duration) []client.Rule {
	rules := client.DefaultRules()
	for i := range rules {
		rules[i].Policy.Timeout = timeout
		rules[i].Policy.BaseDelay = time.Millisecond
		rules[i].Policy.MaxDelay = 2 * time.Millisecond
	}
	return rules
}

type fixture struct {
	upstream *testutil.MockUpstream
	store    *cache.MemoryStore
	monitor  *monitor.Monitor
	client   *client.Client
	service  *Service
}

func newFixture(t *testing.T, limiter CreationLimiter) *fixture {
	t.Helper()

	upstream := testutil.NewMockUpstream()
	t.Cleanup(upstream.Close)

	store := cache.NewMemoryStore(cache.MemoryConfig{MaxEntries: 100})
	t.Cleanup(func() { store.Close() })

	mon := monitor.New(monitor.Config{Registerer: prometheus.NewRegistry()})

	cfg := client.DefaultConfig(upstream.URL())
	cfg.ConsumerKey = "ck_test"
	cfg.ConsumerSecret = "cs_test"
	cfg.Cache = store
	cfg.Recorder = mon
	cfg.Resolver = client.NewResolver(client.ResolverConfig{Rules: fastRules(200 * time.Millisecond)})

	c, err := client.New(cfg)
	require.NoError(t, err)

	svc := NewService(c, Config{Recorder: mon, Limiter: limiter})

	return &fixture{upstream: upstream, store: store, monitor: mon, client: c, service: svc}
}

func validInput(customerID int64) OrderInput {
	return OrderInput{
		Status:        "pending",
		Currency:      "EUR",
		CustomerID:    customerID,
		PaymentMethod: "bacs",
		Billing:       &Address{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Country: "DE"},
		LineItems:     []LineItem{{ProductID: 99, Quantity: 2}},
	}
}

func TestListOrders_ServedFromCache(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetSequence("GET /orders",
		testutil.NewJSONResponse("["+testutil.OrderJSON(1, "processing")+"]"),
		testutil.NewServerErrorResponse(),
	)

	ctx := context.Background()
	q := ListQuery{Status: "processing", Page: 1}

	first, err := f.service.ListOrders(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.service.ListOrders(ctx, q)
	require.NoError(t, err, "second call must be served from cache")
	assert.Equal(t, first, second)

	assert.Equal(t, 1, f.upstream.Count("GET /orders"))
	counters := f.monitor.Counters()
	assert.Equal(t, int64(1), counters.CacheHits)
	assert.Equal(t, int64(1), counters.CacheMisses)
}

func TestListOrders_RequestsProjection(t *testing.T) {
	f := newFixture(t, nil)

	var query string
	f.upstream.SetHandler("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte("[]"))
	})

	_, err := f.service.ListOrders(context.Background(), ListQuery{
		Customer: 7,
		Status:   "completed",
		PerPage:  20,
		OrderBy:  "date",
		Order:    "desc",
		After:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	for _, want := range []string{"customer=7", "status=completed", "per_page=20", "orderby=date", "order=desc", "after=2024-01-01T00%3A00%3A00Z", "_fields="} {
		assert.Contains(t, query, want)
	}
	assert.NotContains(t, query, "page=0")
}

func TestListOrders_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query ListQuery
	}{
		{"unknown status", ListQuery{Status: "shipped"}},
		{"page size too large", ListQuery{PerPage: 500}},
		{"bad sort direction", ListQuery{Order: "up"}},
		{"negative customer", ListQuery{Customer: -1}},
		{"inverted range", ListQuery{
			After:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			Before: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}

	f := newFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.ListOrders(context.Background(), tt.query)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, f.upstream.RequestCount())
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetResponse("GET /orders/42", testutil.NewJSONResponse(testutil.OrderJSON(42, "processing")))

	order, err := f.service.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, "processing", order.Status)
	assert.Equal(t, "ada@example.com", order.Billing.Email)
	require.Len(t, order.LineItems, 1)
	assert.Equal(t, 2, order.LineItems[0].Quantity)

	_, err = f.service.GetOrder(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetResponse("GET /orders/404", testutil.NewNotFoundResponse())

	_, err := f.service.GetOrder(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
	assert.ErrorIs(t, err, client.ErrRequestExhausted)
	assert.Equal(t, 1, f.upstream.Count("GET /orders/404"), "404 must fail fast")
}

func TestCreateOrder_RetriesServerErrors(t *testing.T) {
	f := newFixture(t, nil)

	var requestIDs []string
	responses := []testutil.MockResponse{
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewCreatedResponse(testutil.OrderJSON(77, "pending")),
	}
	f.upstream.SetHandler("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		requestIDs = append(requestIDs, r.Header.Get("X-Request-ID"))
		resp := responses[len(requestIDs)-1]
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})

	order, err := f.service.CreateOrder(context.Background(), validInput(7))
	require.NoError(t, err)
	assert.Equal(t, int64(77), order.ID)

	require.Len(t, requestIDs, 3)
	assert.Equal(t, requestIDs[0], requestIDs[2], "retries must reuse the request id")

	counters := f.monitor.Counters()
	assert.Equal(t, int64(2), counters.APICallsFailed)
	assert.Equal(t, int64(1), counters.APICallsSuccess)
	assert.Equal(t, int64(1), counters.OrdersCreated)
	assert.Zero(t, counters.OrdersFailed)
}

func TestCreateOrder_SendsPayload(t *testing.T) {
	f := newFixture(t, nil)

	var payload map[string]any
	f.upstream.SetHandler("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(testutil.OrderJSON(5, "pending")))
	})

	_, err := f.service.CreateOrder(context.Background(), validInput(7))
	require.NoError(t, err)

	assert.Equal(t, "EUR", payload["currency"])
	assert.Equal(t, float64(7), payload["customer_id"])
	assert.NotContains(t, payload, "shipping", "unset fields are not sent")
	items := payload["line_items"].([]any)
	assert.Equal(t, float64(99), items[0].(map[string]any)["product_id"])
}

func TestCreateOrder_InvalidatesCachedList(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetSequence("GET /orders",
		testutil.NewJSONResponse("["+testutil.OrderJSON(1, "processing")+"]"),
		testutil.NewJSONResponse("["+testutil.OrderJSON(1, "processing")+","+testutil.OrderJSON(2, "pending")+"]"),
	)
	f.upstream.SetResponse("POST /orders", testutil.NewCreatedResponse(testutil.OrderJSON(2, "pending")))

	ctx := context.Background()
	q := ListQuery{Status: "any"}

	before, err := f.service.ListOrders(ctx, q)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, 1, f.store.Len())

	_, err = f.service.CreateOrder(ctx, validInput(7))
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.Len(), "create must drop cached lists")

	after, err := f.service.ListOrders(ctx, q)
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, 2, f.upstream.Count("GET /orders"))
}

func TestCreateOrder_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input OrderInput
	}{
		{"no line items", OrderInput{Currency: "EUR"}},
		{"zero quantity", OrderInput{LineItems: []LineItem{{ProductID: 1, Quantity: 0}}}},
		{"missing product", OrderInput{LineItems: []LineItem{{Quantity: 1}}}},
		{"bad currency", OrderInput{Currency: "EURO", LineItems: []LineItem{{ProductID: 1, Quantity: 1}}}},
		{"bad email", OrderInput{
			Billing:   &Address{Email: "not-an-email"},
			LineItems: []LineItem{{ProductID: 1, Quantity: 1}},
		}},
		{"unknown status", OrderInput{Status: "shipped", LineItems: []LineItem{{ProductID: 1, Quantity: 1}}}},
		{"meta without key", OrderInput{
			LineItems: []LineItem{{ProductID: 1, Quantity: 1}},
			MetaData:  []MetaData{{Value: "x"}},
		}},
	}

	f := newFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateOrder(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	assert.Equal(t, 0, f.upstream.RequestCount(), "invalid input must not reach the upstream")
	assert.Equal(t, int64(len(tests)), f.monitor.Counters().OrdersFailed)
}

func TestCreateOrder_UpstreamFailureRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetResponse("POST /orders", testutil.MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"code":"woocommerce_rest_invalid_product_id","message":"Invalid product ID."}`,
	})

	_, err := f.service.CreateOrder(context.Background(), validInput(7))
	require.Error(t, err)

	var exhausted *client.RequestExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, http.StatusBadRequest, exhausted.StatusCode())
	assert.Equal(t, 1, exhausted.Attempts)

	assert.Equal(t, int64(1), f.monitor.Counters().OrdersFailed)
}

type stubLimiter struct {
	calls []string
	err   error
}

func (l *stubLimiter) Allow(_ context.Context, customerID string) (*ratelimit.WindowState, error) {
	l.calls = append(l.calls, customerID)
	if l.err != nil {
		return nil, l.err
	}
	return &ratelimit.WindowState{CustomerID: customerID, Count: 1, Limit: 10}, nil
}

func TestCreateOrder_Limiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := ratelimit.NewLimiter(rdb, ratelimit.Config{Limit: 2, Window: time.Hour}, zerolog.Nop())
	f := newFixture(t, limiter)
	f.upstream.SetResponse("POST /orders", testutil.NewCreatedResponse(testutil.OrderJSON(1, "pending")))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.service.CreateOrder(ctx, validInput(7))
		require.NoError(t, err)
	}

	_, err := f.service.CreateOrder(ctx, validInput(7))
	require.ErrorIs(t, err, ratelimit.ErrOrderLimitExceeded)
	assert.Contains(t, err.Error(), "retry in")

	_, err = f.service.CreateOrder(ctx, validInput(8))
	assert.NoError(t, err, "other customers keep their own window")

	assert.Equal(t, 3, f.upstream.Count("POST /orders"))
	counters := f.monitor.Counters()
	assert.Equal(t, int64(1), counters.OrdersLimitExceeded)
	assert.Equal(t, int64(3), counters.OrdersCreated)

	summary := f.monitor.Summary()
	assert.NotEmpty(t, summary.Recommendations)
}

func TestCreateOrder_GuestAndLimiterFailure(t *testing.T) {
	stub := &stubLimiter{}
	f := newFixture(t, stub)
	f.upstream.SetResponse("POST /orders", testutil.NewCreatedResponse(testutil.OrderJSON(1, "pending")))

	_, err := f.service.CreateOrder(context.Background(), validInput(0))
	require.NoError(t, err)
	assert.Empty(t, stub.calls, "guest orders are not limited")

	stub.err = errors.New("redis: connection refused")
	_, err = f.service.CreateOrder(context.Background(), validInput(7))
	require.NoError(t, err, "limiter outage must not block orders")
	assert.Equal(t, []string{"7"}, stub.calls)
}

func TestUpdateOrder_InvalidatesOrderReads(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetSequence("GET /orders/42",
		testutil.NewJSONResponse(testutil.OrderJSON(42, "pending")),
		testutil.NewJSONResponse(testutil.OrderJSON(42, "completed")),
	)
	f.upstream.SetResponse("GET /orders/43", testutil.NewJSONResponse(testutil.OrderJSON(43, "pending")))
	f.upstream.SetResponse("PUT /orders/42", testutil.NewJSONResponse(testutil.OrderJSON(42, "completed")))

	ctx := context.Background()
	_, err := f.service.GetOrder(ctx, 42)
	require.NoError(t, err)
	_, err = f.service.GetOrder(ctx, 43)
	require.NoError(t, err)

	updated, err := f.service.UpdateOrder(ctx, 42, OrderInput{Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "completed", updated.Status)

	again, err := f.service.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "completed", again.Status)
	assert.Equal(t, 2, f.upstream.Count("GET /orders/42"))

	_, err = f.service.UpdateOrder(ctx, -1, OrderInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateOrder_FewerAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetResponse("PUT /orders/42", testutil.NewServerErrorResponse())

	_, err := f.service.UpdateOrder(context.Background(), 42, OrderInput{Status: "completed"})

	var exhausted *client.RequestExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 2, f.upstream.Count("PUT /orders/42"))
}

func TestOrderNotes(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetSequence("GET /orders/42/notes",
		testutil.NewJSONResponse(`[{"id":1,"author":"system","note":"Order created","customer_note":false}]`),
		testutil.NewJSONResponse(`[{"id":1,"author":"system","note":"Order created","customer_note":false},{"id":2,"author":"shop","note":"Shipped","customer_note":true}]`),
	)

	var sent noteInput
	f.upstream.SetHandler("POST /orders/42/notes", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":2,"author":"shop","note":"Shipped","customer_note":true}`))
	})

	ctx := context.Background()
	notes, err := f.service.ListOrderNotes(ctx, 42)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	note, err := f.service.AddOrderNote(ctx, 42, "Shipped", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), note.ID)
	assert.Equal(t, noteInput{Note: "Shipped", CustomerNote: true}, sent)

	notes, err = f.service.ListOrderNotes(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, notes, 2, "adding a note drops the cached note list")

	_, err = f.service.AddOrderNote(ctx, 42, "", false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrderRefunds(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetSequence("GET /orders/42/refunds",
		testutil.NewJSONResponse(`[]`),
		testutil.NewJSONResponse(`[{"id":9,"amount":"10.00","reason":"Damaged"}]`),
	)
	f.upstream.SetResponse("POST /orders/42/refunds", testutil.NewCreatedResponse(`{"id":9,"amount":"10.00","reason":"Damaged"}`))
	f.upstream.SetResponse("GET /orders", testutil.NewJSONResponse("[]"))

	ctx := context.Background()
	refunds, err := f.service.ListOrderRefunds(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	_, err = f.service.ListOrders(ctx, ListQuery{})
	require.NoError(t, err)

	refund, err := f.service.CreateOrderRefund(ctx, 42, RefundInput{Amount: "10.00", Reason: "Damaged"})
	require.NoError(t, err)
	assert.Equal(t, "10.00", refund.Amount)

	refunds, err = f.service.ListOrderRefunds(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)

	_, err = f.service.ListOrders(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.upstream.Count("GET /orders"), "refunds drop cached order lists")

	for _, amount := range []string{"", "abc", "-5", "0"} {
		_, err = f.service.CreateOrderRefund(ctx, 42, RefundInput{Amount: amount})
		assert.ErrorIs(t, err, ErrInvalidInput, "amount %q", amount)
	}
}

func TestGetOrderStats_ExhaustsAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetResponse("GET /orders/stats", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{}`,
		Delay:      2 * time.Second,
	})

	_, err := f.service.GetOrderStats(context.Background(), 0)
	require.Error(t, err)

	var exhausted *client.RequestExhaustedError
	require.ErrorAs(t, err, &exhausted)
	policy := f.client.Resolver().Resolve("orders/stats", http.MethodGet)
	assert.Equal(t, policy.MaxAttempts, exhausted.Attempts)
	assert.Equal(t, client.ErrorClassTimeout, exhausted.Class)

	counters := f.monitor.Counters()
	assert.Equal(t, int64(policy.MaxAttempts), counters.APICallsFailed)
}

func TestGetOrderStats_CustomerScoped(t *testing.T) {
	f := newFixture(t, nil)

	var customers []string
	f.upstream.SetHandler("GET /orders/stats", func(w http.ResponseWriter, r *http.Request) {
		customers = append(customers, r.URL.Query().Get("customer"))
		w.Write([]byte(`{"total_orders":3,"total_revenue":127.5,"average_order_value":42.5,"currency":"EUR","status_counts":{"completed":3}}`))
	})

	ctx := context.Background()
	stats, err := f.service.GetOrderStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalOrders)
	assert.InDelta(t, 42.5, stats.AverageOrderValue, 0.001)
	assert.Equal(t, int64(3), stats.StatusCounts["completed"])

	_, err = f.service.GetOrderStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, customers, "second read is cached")

	assert.Equal(t, 1, f.client.Invalidate(ctx, CustomerTag(7)))

	_, err = f.service.GetOrderStats(ctx, -3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListAllOrders(t *testing.T) {
	f := newFixture(t, nil)

	const totalPages = 4
	f.upstream.SetHandler("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		var n int
		fmt.Sscanf(page, "%d", &n)
		w.Header().Set(HeaderTotal, "8")
		w.Header().Set(HeaderTotalPages, fmt.Sprint(totalPages))
		w.Write([]byte("[" + testutil.OrderJSON(n*10+1, "completed") + "," + testutil.OrderJSON(n*10+2, "completed") + "]"))
	})

	all, err := f.service.ListAllOrders(context.Background(), ListQuery{Status: "completed", Page: 3})
	require.NoError(t, err)
	require.Len(t, all, 8)

	ids := make([]int64, len(all))
	for i, o := range all {
		ids[i] = o.ID
	}
	assert.Equal(t, []int64{11, 12, 21, 22, 31, 32, 41, 42}, ids)
	assert.Equal(t, totalPages, f.upstream.Count("GET /orders"))
	assert.Equal(t, 0, f.store.Len(), "page requests bypass the cache")
}

func TestListAllOrders_PageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.SetHandler("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderTotalPages, "3")
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[]"))
	})

	_, err := f.service.ListAllOrders(context.Background(), ListQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRequestExhausted)
	assert.True(t, strings.HasPrefix(err.Error(), "list all orders"))
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"exhausted", &client.RequestExhaustedError{Class: client.ErrorClassServer, Cause: errors.New("500")}, "server"},
		{"decode", fmt.Errorf("decode response: %w", &json.SyntaxError{}), ReasonDecode},
		{"other", errors.New("boom"), ReasonUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureReason(tt.err))
		})
	}
}

func TestNewService_PanicsWithoutClient(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, Config{}) })
}
