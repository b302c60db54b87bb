package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoRoutes = errors.New("no transport routes configured")

// NetworkError is a failed connection, DNS lookup or timeout. The chain
// moves on to the next route.
type NetworkError struct {
	Route string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Route, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError is an HTTP 404, typically an inactive production workflow.
// The chain moves on to the next route.
type NotFoundError struct {
	Route string
	Body  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: webhook not found (404)", e.Route)
}

// UpstreamError is any other non-2xx answer. It stops the chain.
type UpstreamError struct {
	Route  string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: webhook returned %d", e.Route, e.Status)
}

// Attempt records one try against one route.
type Attempt struct {
	Route    string        `json:"route"`
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

func (a Attempt) Reason() string {
	if a.Err == nil {
		return "ok"
	}
	return a.Err.Error()
}

// ExhaustedError means every route failed with a retryable error.
// Attempts are in the order they were made.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d transports failed: %s", len(e.Attempts), strings.Join(e.Reasons(), "; "))
}

func (e *ExhaustedError) Reasons() []string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.Reason())
	}
	return reasons
}

// Unwrap exposes the last attempt's error to errors.As.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Retryable reports whether err lets the chain advance to the next route.
func Retryable(err error) bool {
	var netErr *NetworkError
	var nfErr *NotFoundError
	return errors.As(err, &netErr) || errors.As(err, &nfErr)
}
