package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAttemptsExhausted is matched by every FetchError.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

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

// ErrTLS indicates a failed TLS handshake or certificate check.
type ErrTLS struct {
	Err error
}

func (e ErrTLS) Error() string {
	return fmt.Errorf("tls: %w", e.Err).Error()
}

func (e ErrTLS) Unwrap() error {
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

// ErrBadStatus indicates a response outside the accepted status set.
type ErrBadStatus struct {
	StatusCode int
}

func (e ErrBadStatus) Error() string {
	return fmt.Sprintf("bad_status: http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ErrBotCheck indicates the body was an anti-automation challenge page.
type ErrBotCheck struct {
	URL string
}

func (e ErrBotCheck) Error() string {
	return fmt.Sprintf("bot_check: challenge page served for %s", e.URL)
}

// ErrRedirectPolicy indicates a redirect chain that will not be followed.
// Retrying cannot change the outcome, so it ends the attempt loop.
type ErrRedirectPolicy struct {
	URL  string
	Hops int
}

func (e ErrRedirectPolicy) Error() string {
	return fmt.Sprintf("redirect: stopped at %s after %d hops", e.URL, e.Hops)
}

// FetchError is returned when no attempt produced a valid response.
type FetchError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %s after %d attempts: %v", e.Method, e.URL, ErrAttemptsExhausted, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrAttemptsExhausted, e.Err}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var tlsErr ErrTLS
	if errors.As(err, &tlsErr) {
		return "tls"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var redirect ErrRedirectPolicy
	if errors.As(err, &redirect) {
		return "redirect"
	}
	var botCheck ErrBotCheck
	if errors.As(err, &botCheck) {
		return "bot_check"
	}
	var status ErrBadStatus
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "bad_status"
	}
	return "other"
}
