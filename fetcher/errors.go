package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrRetriesExhausted marks a request that stayed retryable through its
// whole attempt budget.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the API throttled the request (HTTP 429).
type ErrRateLimited struct {
	Status int
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate_limited: http status %d", e.Status)
}

// ErrServerStatus indicates a server-side failure (HTTP 5xx).
type ErrServerStatus struct {
	Status int
}

func (e ErrServerStatus) Error() string {
	return fmt.Sprintf("server_error: http status %d", e.Status)
}

// ErrClientStatus indicates a client-side rejection: any non-200 status
// that is not a throttle or server failure. Never retried.
type ErrClientStatus struct {
	Status int
}

func (e ErrClientStatus) Error() string {
	return fmt.Sprintf("client_error: http status %d", e.Status)
}

// classify turns a transport error or a non-200 status into one of the
// typed errors above. statusCode is only inspected when err is nil.
func classify(statusCode int, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		return ErrConnection{Err: err}
	}

	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Status: statusCode}
	case statusCode >= 500:
		return ErrServerStatus{Status: statusCode}
	default:
		return ErrClientStatus{Status: statusCode}
	}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	var (
		timeout ErrTimeout
		conn    ErrConnection
		rate    ErrRateLimited
		server  ErrServerStatus
	)
	return errors.As(err, &timeout) ||
		errors.As(err, &conn) ||
		errors.As(err, &rate) ||
		errors.As(err, &server)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServerStatus
	if errors.As(err, &server) {
		return "server_error"
	}
	var client ErrClientStatus
	if errors.As(err, &client) {
		return "client_error"
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return "exhausted"
	}
	return "other"
}
