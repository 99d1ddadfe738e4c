package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/order-api-client/pkg/client"
	"github.com/Sternrassler/order-api-client/pkg/monitor"
	"github.com/Sternrassler/order-api-client/pkg/orders"
	"github.com/Sternrassler/order-api-client/pkg/ratelimit"
)

const maxRequestBytes = 1 << 20

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func summaryHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mon.Summary())
	}
}

func listOrdersHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseListQuery(r.URL.Query())
		if err != nil {
			writeError(w, err)
			return
		}

		var list []orders.Order
		if r.URL.Query().Get("all") == "true" {
			list, err = svc.ListAllOrders(r.Context(), q)
		} else {
			list, err = svc.ListOrders(r.Context(), q)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []orders.Order{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func getOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		order, err := svc.GetOrder(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func createOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in orders.OrderInput
		if err := decodeBody(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		order, err := svc.CreateOrder(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
	}
}

func updateOrderHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var in orders.OrderInput
		if err := decodeBody(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		order, err := svc.UpdateOrder(r.Context(), id, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func listNotesHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		notes, err := svc.ListOrderNotes(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func addNoteHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var in struct {
			Note         string `json:"note"`
			CustomerNote bool   `json:"customer_note"`
		}
		if err := decodeBody(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		note, err := svc.AddOrderNote(r.Context(), id, in.Note, in.CustomerNote)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	}
}

func listRefundsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		refunds, err := svc.ListOrderRefunds(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, refunds)
	}
}

func createRefundHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var in orders.RefundInput
		if err := decodeBody(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		refund, err := svc.CreateOrderRefund(r.Context(), id, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, refund)
	}
}

func orderStatsHandler(svc *orders.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var customer int64
		if v := r.URL.Query().Get("customer"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, fmt.Errorf("%w: customer: %v", orders.ErrInvalidInput, err))
				return
			}
			customer = n
		}
		stats, err := svc.GetOrderStats(r.Context(), customer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// parseListQuery maps proxy query parameters onto an orders.ListQuery.
func parseListQuery(v url.Values) (orders.ListQuery, error) {
	q := orders.ListQuery{
		Status:  v.Get("status"),
		OrderBy: v.Get("orderby"),
		Order:   v.Get("order"),
		Search:  v.Get("search"),
	}

	ints := []struct {
		name string
		set  func(int64)
	}{
		{"customer", func(n int64) { q.Customer = n }},
		{"page", func(n int64) { q.Page = int(n) }},
		{"per_page", func(n int64) { q.PerPage = int(n) }},
	}
	for _, p := range ints {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: %s: %v", orders.ErrInvalidInput, p.name, err)
		}
		p.set(n)
	}

	for name, dst := range map[string]*time.Time{"after": &q.After, "before": &q.Before} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: %s: %v", orders.ErrInvalidInput, name, err)
		}
		*dst = t
	}
	return q, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: order id %q", orders.ErrInvalidInput, r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", orders.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps service errors onto proxy response codes.
func statusFor(err error) int {
	var exhausted *client.RequestExhaustedError
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ratelimit.ErrOrderLimitExceeded):
		return http.StatusTooManyRequests
	case client.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &exhausted):
		if exhausted.Class == client.ErrorClassTimeout {
			return http.StatusGatewayTimeout
		}
		if code := exhausted.StatusCode(); code >= 400 && code < 500 {
			return code
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Order request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
