package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/order-api-client/pkg/logging"
)

//go:generate mockgen -source=retry.go -destination=mocks/mock_retry.go -package=mocks

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallRecorder receives the outcome of every upstream attempt.
type CallRecorder interface {
	RecordAPICall(endpoint string, success bool, latency time.Duration)
}

// Response is a successful upstream (or cached) response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is the number of upstream attempts made; 0 for cache hits.
	Attempts  int
	Cached    bool
	RequestID string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HeaderInt parses an integer response header, returning 0 when absent or malformed.
func (r *Response) HeaderInt(name string) int {
	n, err := strconv.Atoi(r.Header.Get(name))
	if err != nil {
		return 0
	}
	return n
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	BaseURL        string
	UserAgent      string
	ConsumerKey    string
	ConsumerSecret string
	Doer           Doer
	Recorder       CallRecorder
}

// Executor runs a Request against the upstream with per-attempt timeouts
// and exponential backoff between attempts.
type Executor struct {
	baseURL   *url.URL
	userAgent string
	key       string
	secret    string
	doer      Doer
	recorder  CallRecorder
	logger    zerolog.Logger

	// Replaced in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidConfig, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, cfg.BaseURL)
	}

	doer := cfg.Doer
	if doer == nil {
		// Attempts carry their own deadline; the client itself has none.
		doer = &http.Client{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Executor{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		key:       cfg.ConsumerKey,
		secret:    cfg.ConsumerSecret,
		doer:      doer,
		recorder:  recorder,
		logger:    logging.NewLogger("retry-executor"),
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// Execute attempts req up to policy.MaxAttempts times. Every failure is
// returned as a *RequestExhaustedError.
func (e *Executor) Execute(ctx context.Context, req Request, policy Policy) (*Response, error) {
	policy = policy.withDefaults()
	method := req.method()
	resource := NormalizeResource(req.Resource)

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, e.exhausted(req, method, 0, policy, ErrorClassEncoding, err)
	}

	requestID := uuid.NewString()
	schedule := policy.newBackOff()

	var (
		lastErr   error
		lastClass ErrorClass
		attempts  int
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt

		resp, class, err := e.attempt(ctx, req, method, resource, body, requestID, policy.Timeout)
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("resource", resource).
					Str("method", method).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			resp.Attempts = attempt
			return resp, nil
		}

		lastErr, lastClass = err, class

		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr, lastClass = fmt.Errorf("%w (last error: %v)", ctxErr, err), ErrorClassCanceled
			break
		}

		e.logger.Warn().
			Err(err).
			Str("resource", resource).
			Str("method", method).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Str("error_class", string(class)).
			Str("request_id", requestID).
			Msg("Attempt failed")

		if !shouldRetry(class, policy) || attempt >= policy.MaxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		e.logger.Debug().
			Str("resource", resource).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := e.sleep(ctx, delay); err != nil {
			lastErr, lastClass = fmt.Errorf("%w (last error: %v)", err, lastErr), ErrorClassCanceled
			break
		}
	}

	return nil, e.exhausted(req, method, attempts, policy, lastClass, lastErr)
}

// attempt performs one HTTP round trip under its own timeout.
func (e *Executor) attempt(ctx context.Context, req Request, method, resource string, body []byte, requestID string, timeout time.Duration) (*Response, ErrorClass, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := e.newHTTPRequest(attemptCtx, req, method, body, requestID)
	if err != nil {
		return nil, ErrorClassEncoding, err
	}

	start := e.now()
	resp, err := e.doer.Do(httpReq)
	if err != nil {
		class := classifyTransportError(attemptCtx, err)
		e.observe(resource, string(class), class, start, false)
		return nil, class, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		class := classifyTransportError(attemptCtx, err)
		e.observe(resource, string(class), class, start, false)
		return nil, class, fmt.Errorf("read response body: %w", err)
	}

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		e.observe(resource, status, class, start, false)
		return nil, class, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}

	e.observe(resource, status, "", start, true)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  requestID,
	}, "", nil
}

func (e *Executor) observe(resource, status string, class ErrorClass, start time.Time, success bool) {
	latency := e.now().Sub(start)
	requestsTotal.WithLabelValues(resource, status).Inc()
	requestDuration.WithLabelValues(resource).Observe(latency.Seconds())
	if !success {
		errorsTotal.WithLabelValues(string(class)).Inc()
	}
	e.recorder.RecordAPICall(resource, success, latency)
}

func (e *Executor) newHTTPRequest(ctx context.Context, req Request, method string, body []byte, requestID string) (*http.Request, error) {
	u := *e.baseURL
	path := req.Path
	if path == "" {
		path = req.Resource
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if e.key != "" {
		httpReq.SetBasicAuth(e.key, e.secret)
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	return httpReq, nil
}

func (e *Executor) exhausted(req Request, method string, attempts int, policy Policy, class ErrorClass, cause error) error {
	exhaustedTotal.WithLabelValues(string(class)).Inc()

	err := &RequestExhaustedError{
		Resource:    req.Resource,
		Method:      method,
		Attempts:    attempts,
		MaxAttempts: policy.MaxAttempts,
		Class:       class,
		Cause:       cause,
	}

	e.logger.Error().
		Err(cause).
		Str("resource", req.Resource).
		Str("method", method).
		Int("attempts", attempts).
		Int("max_attempts", policy.MaxAttempts).
		Str("error_class", string(class)).
		Msg("Request failed")

	return err
}

// encodeBody marshals a request body once so every attempt sends identical bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordAPICall(string, bool, time.Duration) {}
func (nopRecorder) RecordCacheHit(string)                     {}
func (nopRecorder) RecordCacheMiss(string)                    {}
