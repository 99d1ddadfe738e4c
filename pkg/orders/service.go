// Package orders exposes the typed order operations on top of the resilient
// client: cached reads tagged for invalidation, validated writes that declare
// the tags they make stale, and an optional per-customer creation limit.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/order-api-client/pkg/client"
	"github.com/Sternrassler/order-api-client/pkg/logging"
	"github.com/Sternrassler/order-api-client/pkg/pagination"
	"github.com/Sternrassler/order-api-client/pkg/ratelimit"
)

// TagOrders is carried by every order list, single-order and stats read.
const TagOrders = "orders"

// OrderTag is the tag of every read scoped to one order.
func OrderTag(id int64) string {
	return "order:" + strconv.FormatInt(id, 10)
}

// CustomerTag is the tag of every read scoped to one customer.
func CustomerTag(id int64) string {
	return "customer:" + strconv.FormatInt(id, 10)
}

// Pagination headers of the upstream.
const (
	HeaderTotal      = "X-WP-Total"
	HeaderTotalPages = "X-WP-TotalPages"
)

// Failure reasons reported to the OrderRecorder besides the client error classes.
const (
	ReasonInvalidInput = "invalid_input"
	ReasonDecode       = "decode"
	ReasonUpstream     = "upstream"
)

// OrderRecorder receives order creation outcomes. *monitor.Monitor satisfies it.
type OrderRecorder interface {
	RecordOrderCreated(processing time.Duration)
	RecordOrderFailed(reason string)
	RecordOrderLimitExceeded(customer string)
}

// CreationLimiter gates order creation per customer. *ratelimit.Limiter satisfies it.
type CreationLimiter interface {
	Allow(ctx context.Context, customerID string) (*ratelimit.WindowState, error)
}

// Config holds the optional collaborators of a Service.
type Config struct {
	Recorder OrderRecorder
	Limiter  CreationLimiter
	Pages    pagination.Config
}

// Service performs order operations against the upstream.
type Service struct {
	client   *client.Client
	recorder OrderRecorder
	limiter  CreationLimiter
	pages    pagination.Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates an order service on top of c.
func NewService(c *client.Client, cfg Config) *Service {
	if c == nil {
		panic("client is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.Pages == (pagination.Config{}) {
		cfg.Pages = pagination.DefaultConfig()
	}

	return &Service{
		client:   c,
		recorder: recorder,
		limiter:  cfg.Limiter,
		pages:    cfg.Pages,
		logger:   logging.NewLogger("orders"),
		now:      time.Now,
	}
}

func orderResource(id int64) string {
	return "orders/" + strconv.FormatInt(id, 10)
}

func projection() url.Values {
	return url.Values{"_fields": {fieldsParam}}
}

func checkID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: order id must be positive, got %d", ErrInvalidInput, id)
	}
	return nil
}

func (s *Service) do(ctx context.Context, req client.Request, out any) error {
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// ListOrders returns one page of orders matching q. Results are cached and
// tagged "orders", plus "customer:<id>" when q is scoped to a customer.
func (s *Service) ListOrders(ctx context.Context, q ListQuery) ([]Order, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var orders []Order
	err := s.do(ctx, client.Request{
		Resource:  "orders",
		Operation: "list",
		Query:     q.values(),
		Cacheable: true,
		Tags:      q.tags(),
	}, &orders)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns a single order.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	var order Order
	err := s.do(ctx, client.Request{
		Resource:  orderResource(id),
		Operation: "get",
		Query:     projection(),
		Cacheable: true,
		Tags:      []string{TagOrders, OrderTag(id)},
	}, &order)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &order, nil
}

// CreateOrder validates in, applies the per-customer creation limit and
// creates the order. Every cached order list becomes stale.
func (s *Service) CreateOrder(ctx context.Context, in OrderInput) (*Order, error) {
	start := s.now()

	if err := in.Validate(); err != nil {
		s.recorder.RecordOrderFailed(ReasonInvalidInput)
		return nil, err
	}
	if len(in.LineItems) == 0 {
		s.recorder.RecordOrderFailed(ReasonInvalidInput)
		return nil, fmt.Errorf("%w: an order needs at least one line item", ErrInvalidInput)
	}

	if err := s.checkLimit(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	var order Order
	err := s.do(ctx, client.Request{
		Resource:    "orders",
		Operation:   "create",
		Method:      http.MethodPost,
		Body:        in,
		Invalidates: []string{TagOrders},
	}, &order)
	if err != nil {
		s.recorder.RecordOrderFailed(failureReason(err))
		return nil, fmt.Errorf("create order: %w", err)
	}

	processing := s.now().Sub(start)
	s.recorder.RecordOrderCreated(processing)
	s.logger.Info().
		Int64("order_id", order.ID).
		Int64("customer_id", in.CustomerID).
		Dur("duration", processing).
		Msg("Order created")

	return &order, nil
}

// checkLimit applies the creation limit. Guest orders are not limited, and a
// limiter failure lets the order through.
func (s *Service) checkLimit(ctx context.Context, customerID int64) error {
	if s.limiter == nil || customerID == 0 {
		return nil
	}

	customer := strconv.FormatInt(customerID, 10)
	state, err := s.limiter.Allow(ctx, customer)
	switch {
	case errors.Is(err, ratelimit.ErrOrderLimitExceeded):
		s.recorder.RecordOrderLimitExceeded(customer)
		if state != nil {
			return fmt.Errorf("customer %d, retry in %s: %w", customerID, state.TimeUntilReset(s.now()).Round(time.Second), err)
		}
		return fmt.Errorf("customer %d: %w", customerID, err)
	case err != nil:
		s.logger.Warn().Err(err).Str("customer_id", customer).Msg("Order limiter unavailable - allowing order")
	}
	return nil
}

// UpdateOrder applies the set fields of in to order id.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in OrderInput) (*Order, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var order Order
	err := s.do(ctx, client.Request{
		Resource:    orderResource(id),
		Operation:   "update",
		Method:      http.MethodPut,
		Body:        in,
		Invalidates: []string{TagOrders, OrderTag(id)},
	}, &order)
	if err != nil {
		return nil, fmt.Errorf("update order %d: %w", id, err)
	}
	return &order, nil
}

// ListOrderNotes returns the notes of order id.
func (s *Service) ListOrderNotes(ctx context.Context, id int64) ([]Note, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	var notes []Note
	err := s.do(ctx, client.Request{
		Resource:  orderResource(id) + "/notes",
		Operation: "list",
		Cacheable: true,
		Tags:      []string{OrderTag(id)},
	}, &notes)
	if err != nil {
		return nil, fmt.Errorf("list notes of order %d: %w", id, err)
	}
	return notes, nil
}

// AddOrderNote adds a note to order id. Customer notes are visible to the customer.
func (s *Service) AddOrderNote(ctx context.Context, id int64, note string, isCustomerNote bool) (*Note, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if note == "" {
		return nil, fmt.Errorf("%w: note is empty", ErrInvalidInput)
	}

	var created Note
	err := s.do(ctx, client.Request{
		Resource:    orderResource(id) + "/notes",
		Operation:   "create",
		Method:      http.MethodPost,
		Body:        noteInput{Note: note, CustomerNote: isCustomerNote},
		Invalidates: []string{OrderTag(id)},
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("add note to order %d: %w", id, err)
	}
	return &created, nil
}

// ListOrderRefunds returns the refunds of order id.
func (s *Service) ListOrderRefunds(ctx context.Context, id int64) ([]Refund, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	var refunds []Refund
	err := s.do(ctx, client.Request{
		Resource:  orderResource(id) + "/refunds",
		Operation: "list",
		Cacheable: true,
		Tags:      []string{OrderTag(id)},
	}, &refunds)
	if err != nil {
		return nil, fmt.Errorf("list refunds of order %d: %w", id, err)
	}
	return refunds, nil
}

// CreateOrderRefund refunds part or all of order id.
func (s *Service) CreateOrderRefund(ctx context.Context, id int64, in RefundInput) (*Refund, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var refund Refund
	err := s.do(ctx, client.Request{
		Resource:    orderResource(id) + "/refunds",
		Operation:   "create",
		Method:      http.MethodPost,
		Body:        in,
		Invalidates: []string{TagOrders, OrderTag(id)},
	}, &refund)
	if err != nil {
		return nil, fmt.Errorf("refund order %d: %w", id, err)
	}
	return &refund, nil
}

// GetOrderStats returns aggregate order statistics, for one customer when customerID > 0.
func (s *Service) GetOrderStats(ctx context.Context, customerID int64) (*OrderStats, error) {
	if customerID < 0 {
		return nil, fmt.Errorf("%w: customer id must not be negative", ErrInvalidInput)
	}

	query := url.Values{}
	tags := []string{TagOrders}
	if customerID > 0 {
		query.Set("customer", strconv.FormatInt(customerID, 10))
		tags = append(tags, CustomerTag(customerID))
	}

	var stats OrderStats
	err := s.do(ctx, client.Request{
		Resource:  "orders/stats",
		Operation: "get",
		Query:     query,
		Cacheable: true,
		Tags:      tags,
	}, &stats)
	if err != nil {
		return nil, fmt.Errorf("get order stats: %w", err)
	}
	return &stats, nil
}

// ListAllOrders fetches every page matching q in parallel and returns the
// orders in page order. q.Page is ignored; PerPage defaults to MaxPerPage.
// Page requests bypass the cache because the page count lives in a header.
func (s *Service) ListAllOrders(ctx context.Context, q ListQuery) ([]Order, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Page = 0
	if q.PerPage == 0 {
		q.PerPage = MaxPerPage
	}

	fetcher := pagination.NewBatchFetcher(pagination.PageFetcherFunc(func(ctx context.Context, endpoint string, page int) ([]byte, int, error) {
		query := q.values()
		query.Set("page", strconv.Itoa(page))

		resp, err := s.client.Do(ctx, client.Request{
			Resource:  endpoint,
			Operation: "list",
			Query:     query,
		})
		if err != nil {
			return nil, 0, err
		}
		return resp.Body, resp.HeaderInt(HeaderTotalPages), nil
	}), s.pages)

	pages, err := fetcher.FetchAllPages(ctx, "orders")
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}

	var all []Order
	for i, body := range pagination.Ordered(pages) {
		var page []Order
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("list all orders: decode page %d: %w", i+1, err)
		}
		all = append(all, page...)
	}
	return all, nil
}

func failureReason(err error) string {
	var exhausted *client.RequestExhaustedError
	if errors.As(err, &exhausted) {
		return string(exhausted.Class)
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntax) || errors.As(err, &typeErr) {
		return ReasonDecode
	}
	return ReasonUpstream
}

type nopRecorder struct{}

func (nopRecorder) RecordOrderCreated(time.Duration) {}
func (nopRecorder) RecordOrderFailed(string)         {}
func (nopRecorder) RecordOrderLimitExceeded(string)  {}
