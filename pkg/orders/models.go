package orders

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty" validate:"omitempty,len=2,alpha"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
}

// LineItem is one product line of an order.
type LineItem struct {
	ID          int64   `json:"id,omitempty"`
	Name        string  `json:"name,omitempty"`
	ProductID   int64   `json:"product_id" validate:"gt=0"`
	VariationID int64   `json:"variation_id,omitempty" validate:"gte=0"`
	Quantity    int     `json:"quantity" validate:"gt=0"`
	SKU         string  `json:"sku,omitempty"`
	Subtotal    string  `json:"subtotal,omitempty" validate:"omitempty,numeric"`
	Total       string  `json:"total,omitempty" validate:"omitempty,numeric"`
	Price       float64 `json:"price,omitempty"`
}

// MetaData is a free-form key/value attached to orders, refunds and line items.
type MetaData struct {
	ID    int64  `json:"id,omitempty"`
	Key   string `json:"key" validate:"required"`
	Value any    `json:"value"`
}

// Order mirrors the projected order payload. Dates stay in the upstream's
// local ISO-8601 form without a zone.
type Order struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"number"`
	Status             string     `json:"status"`
	DateCreated        string     `json:"date_created"`
	DateModified       string     `json:"date_modified"`
	Total              string     `json:"total"`
	Currency           string     `json:"currency"`
	CustomerID         int64      `json:"customer_id"`
	Billing            Address    `json:"billing"`
	Shipping           Address    `json:"shipping"`
	LineItems          []LineItem `json:"line_items"`
	MetaData           []MetaData `json:"meta_data"`
	PaymentMethod      string     `json:"payment_method"`
	PaymentMethodTitle string     `json:"payment_method_title"`
	TransactionID      string     `json:"transaction_id"`
	PaymentURL         string     `json:"payment_url"`
	CheckoutPaymentURL string     `json:"checkout_payment_url"`
}

// Note is an order note.
type Note struct {
	ID           int64  `json:"id"`
	Author       string `json:"author"`
	DateCreated  string `json:"date_created"`
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

// Refund is a refund recorded against an order.
type Refund struct {
	ID          int64      `json:"id"`
	DateCreated string     `json:"date_created"`
	Amount      string     `json:"amount"`
	Reason      string     `json:"reason"`
	RefundedBy  int64      `json:"refunded_by"`
	MetaData    []MetaData `json:"meta_data,omitempty"`
}

// OrderStats aggregates orders, optionally for one customer.
type OrderStats struct {
	TotalOrders       int64            `json:"total_orders"`
	TotalRevenue      float64          `json:"total_revenue"`
	AverageOrderValue float64          `json:"average_order_value"`
	Currency          string           `json:"currency,omitempty"`
	StatusCounts      map[string]int64 `json:"status_counts,omitempty"`
}

type noteInput struct {
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}
