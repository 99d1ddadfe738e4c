package orders

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInput is returned before any upstream call when a query or payload fails validation.
var ErrInvalidInput = errors.New("invalid input")

var validate = validator.New()

// MaxPerPage is the largest page size the upstream accepts.
const MaxPerPage = 100

// OrderFields is the projection requested by list and get operations.
var OrderFields = []string{
	"id", "number", "status", "date_created", "date_modified", "total", "currency",
	"customer_id", "billing", "shipping", "line_items", "meta_data", "payment_method",
	"payment_method_title", "transaction_id", "payment_url", "checkout_payment_url",
}

var fieldsParam = strings.Join(OrderFields, ",")

// ListQuery filters ListOrders. Zero values are omitted from the request.
type ListQuery struct {
	Customer int64  `validate:"gte=0"`
	Status   string `validate:"omitempty,oneof=any pending processing on-hold completed cancelled refunded failed trash"`
	Page     int    `validate:"gte=0"`
	PerPage  int    `validate:"gte=0,lte=100"`
	OrderBy  string `validate:"omitempty,oneof=date id include title slug modified"`
	Order    string `validate:"omitempty,oneof=asc desc"`
	After    time.Time
	Before   time.Time
	Search   string
}

// Validate implements validation for ListQuery using go-playground/validator
func (q ListQuery) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !q.After.IsZero() && !q.Before.IsZero() && !q.After.Before(q.Before) {
		return fmt.Errorf("%w: after must precede before", ErrInvalidInput)
	}
	return nil
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Customer > 0 {
		v.Set("customer", strconv.FormatInt(q.Customer, 10))
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.OrderBy != "" {
		v.Set("orderby", q.OrderBy)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if !q.After.IsZero() {
		v.Set("after", q.After.UTC().Format(time.RFC3339))
	}
	if !q.Before.IsZero() {
		v.Set("before", q.Before.UTC().Format(time.RFC3339))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	v.Set("_fields", fieldsParam)
	return v
}

func (q ListQuery) tags() []string {
	if q.Customer > 0 {
		return []string{TagOrders, CustomerTag(q.Customer)}
	}
	return []string{TagOrders}
}

// OrderInput is the payload of CreateOrder and UpdateOrder. Empty fields are
// not sent, so an update only touches what is set.
type OrderInput struct {
	Status             string     `json:"status,omitempty" validate:"omitempty,oneof=pending processing on-hold completed cancelled refunded failed"`
	Currency           string     `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	CustomerID         int64      `json:"customer_id,omitempty" validate:"gte=0"`
	CustomerNote       string     `json:"customer_note,omitempty"`
	Billing            *Address   `json:"billing,omitempty"`
	Shipping           *Address   `json:"shipping,omitempty"`
	PaymentMethod      string     `json:"payment_method,omitempty"`
	PaymentMethodTitle string     `json:"payment_method_title,omitempty"`
	SetPaid            bool       `json:"set_paid,omitempty"`
	TransactionID      string     `json:"transaction_id,omitempty"`
	LineItems          []LineItem `json:"line_items,omitempty" validate:"dive"`
	MetaData           []MetaData `json:"meta_data,omitempty" validate:"dive"`
}

// Validate implements validation for OrderInput using go-playground/validator
func (in *OrderInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// RefundInput is the payload of CreateOrderRefund.
type RefundInput struct {
	Amount     string     `json:"amount" validate:"required,numeric"`
	Reason     string     `json:"reason,omitempty" validate:"max=500"`
	RefundedBy int64      `json:"refunded_by,omitempty" validate:"gte=0"`
	APIRefund  *bool      `json:"api_refund,omitempty"`
	MetaData   []MetaData `json:"meta_data,omitempty" validate:"dive"`
}

// Validate implements validation for RefundInput using go-playground/validator
func (in *RefundInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if amount, err := strconv.ParseFloat(in.Amount, 64); err != nil || amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
	}
	return nil
}
