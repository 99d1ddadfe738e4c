package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRequestExhausted is matched by every *RequestExhaustedError.
	ErrRequestExhausted = errors.New("request attempts exhausted")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid client configuration")
)

// ErrorClass represents a classification of a failed attempt.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection-level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents an attempt that hit its per-attempt deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassClient represents other 4xx (and unexpected non-2xx) responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassEncoding represents a request that could not be built.
	ErrorClassEncoding ErrorClass = "encoding"

	// ErrorClassCanceled represents a caller-canceled context.
	ErrorClassCanceled ErrorClass = "canceled"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		body := e.Body
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Sprintf("upstream returned %s: %s", e.Status, body)
	}
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// RequestExhaustedError is the single failure shape returned by Execute.
type RequestExhaustedError struct {
	Resource    string
	Method      string
	Attempts    int
	MaxAttempts int
	Class       ErrorClass
	Cause       error
}

// Error implements the error interface.
func (e *RequestExhaustedError) Error() string {
	return fmt.Sprintf("%s %s failed after %d/%d attempts (%s): %v",
		e.Method, e.Resource, e.Attempts, e.MaxAttempts, e.Class, e.Cause)
}

// Unwrap exposes both ErrRequestExhausted and the last cause to errors.Is/As.
func (e *RequestExhaustedError) Unwrap() []error {
	return []error{ErrRequestExhausted, e.Cause}
}

// StatusCode returns the HTTP status of the last attempt, or 0 if no response was received.
func (e *RequestExhaustedError) StatusCode() int {
	var se *StatusError
	if errors.As(e.Cause, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an exhausted request whose last response was 404.
func IsNotFound(err error) bool {
	var re *RequestExhaustedError
	return errors.As(err, &re) && re.StatusCode() == http.StatusNotFound
}

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyTransportError categorizes an error returned by the transport or body read.
func classifyTransportError(attemptCtx context.Context, err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

// shouldRetry determines if a failure class is worth another attempt under policy.
func shouldRetry(class ErrorClass, policy Policy) bool {
	switch class {
	case ErrorClassNetwork, ErrorClassTimeout, ErrorClassServer, ErrorClassRateLimit:
		return true
	case ErrorClassClient:
		// 4xx means the request itself is wrong; repeating it burns the attempt budget.
		return policy.RetryClientErrors
	default:
		return false
	}
}
