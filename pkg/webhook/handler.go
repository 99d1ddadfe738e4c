// Package webhook receives order webhooks from the upstream shop and turns
// them into cache invalidations, so cached reads do not outlive changes made
// outside this client.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/order-api-client/pkg/logging"
)

// Delivery headers set by the upstream.
const (
	HeaderTopic      = "X-WC-Webhook-Topic"
	HeaderSignature  = "X-WC-Webhook-Signature"
	HeaderDeliveryID = "X-WC-Webhook-Delivery-ID"
)

// DefaultMaxBodyBytes limits the accepted payload size.
const DefaultMaxBodyBytes = 1 << 20

var (
	// ErrInvalidSignature means the signature header is missing or does not match the body.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnsupportedTopic means the topic is not an order topic.
	ErrUnsupportedTopic = errors.New("unsupported webhook topic")
)

// Failure reasons reported to the Recorder.
const (
	ReasonSignature = "signature"
	ReasonPayload   = "payload"
	ReasonTopic     = "topic"
)

// Invalidator drops cache entries by tag. *client.Client satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) int
}

// Recorder receives webhook outcomes. *monitor.Monitor satisfies it.
type Recorder interface {
	RecordWebhookReceived(topic string)
	RecordWebhookProcessed(topic string, d time.Duration)
	RecordWebhookFailed(topic, reason string)
}

// Config configures a Handler.
type Config struct {
	// Secret is the shared webhook secret. Empty disables signature checks.
	Secret string `yaml:"secret"`

	// MaxBodyBytes caps the payload. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`
}

// Handler is the http.Handler for POST /webhooks/orders.
type Handler struct {
	secret      []byte
	maxBody     int64
	invalidator Invalidator
	recorder    Recorder
	logger      zerolog.Logger
	now         func() time.Time
}

// NewHandler creates a webhook handler. recorder may be nil.
func NewHandler(cfg Config, invalidator Invalidator, recorder Recorder) *Handler {
	if invalidator == nil {
		panic("invalidator is required")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		maxBody:     cfg.MaxBodyBytes,
		invalidator: invalidator,
		recorder:    recorder,
		logger:      logging.NewLogger("webhook"),
		now:         time.Now,
	}
	if cfg.Secret != "" {
		h.secret = []byte(cfg.Secret)
	}
	return h
}

// payload is the part of an order webhook body this handler reads.
type payload struct {
	ID         int64 `json:"id"`
	CustomerID int64 `json:"customer_id"`
}

// ServeHTTP verifies and applies one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := h.now()
	topic := r.Header.Get(HeaderTopic)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.recorder.RecordWebhookReceived(topic)
			h.fail(topic, ReasonPayload, err)
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	// The upstream pings a new webhook once without a topic.
	if topic == "" {
		h.logger.Debug().Str("delivery_id", r.Header.Get(HeaderDeliveryID)).Msg("Webhook ping")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.recorder.RecordWebhookReceived(topic)

	if h.secret != nil && !Verify(h.secret, body, r.Header.Get(HeaderSignature)) {
		h.fail(topic, ReasonSignature, ErrInvalidSignature)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	tags, err := Tags(topic, body)
	if err != nil {
		reason := ReasonPayload
		if errors.Is(err, ErrUnsupportedTopic) {
			reason = ReasonTopic
		}
		h.fail(topic, reason, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	removed := h.invalidator.Invalidate(r.Context(), tags...)
	elapsed := h.now().Sub(start)
	h.recorder.RecordWebhookProcessed(topic, elapsed)

	h.logger.Info().
		Str("topic", topic).
		Str("delivery_id", r.Header.Get(HeaderDeliveryID)).
		Strs("tags", tags).
		Int("removed", removed).
		Dur("duration", elapsed).
		Msg("Webhook processed")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"invalidated": removed, "tags": tags})
}

func (h *Handler) fail(topic, reason string, err error) {
	h.recorder.RecordWebhookFailed(topic, reason)
	h.logger.Warn().Err(err).Str("topic", topic).Str("reason", reason).Msg("Webhook rejected")
}

// Tags returns the cache tags an order delivery makes stale.
func Tags(topic string, body []byte) ([]string, error) {
	resource, event, ok := strings.Cut(topic, ".")
	if !ok || resource != "order" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTopic, topic)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	tags := []string{"orders"}
	switch event {
	case "created":
	case "updated", "deleted", "restored":
		if p.ID <= 0 {
			return nil, fmt.Errorf("decode payload: %s delivery without order id", topic)
		}
		tags = append(tags, "order:"+strconv.FormatInt(p.ID, 10))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTopic, topic)
	}
	if p.CustomerID > 0 {
		tags = append(tags, "customer:"+strconv.FormatInt(p.CustomerID, 10))
	}
	return tags, nil
}

// Sign returns the base64 HMAC-SHA256 of body, as sent in HeaderSignature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type nopRecorder struct{}

func (nopRecorder) RecordWebhookReceived(string)                 {}
func (nopRecorder) RecordWebhookProcessed(string, time.Duration) {}
func (nopRecorder) RecordWebhookFailed(string, string)           {}
