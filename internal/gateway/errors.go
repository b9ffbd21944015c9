package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"parlo/pkg/resilience"
)

// ErrorType is the classification tag callers branch on: queue the action,
// show a retry prompt, show an upgrade prompt, or give up.
type ErrorType string

const (
	ErrorNetwork ErrorType = "network"
	ErrorTimeout ErrorType = "timeout"
	ErrorServer  ErrorType = "server"
	ErrorQuota   ErrorType = "quota"
	ErrorUnknown ErrorType = "unknown"
)

// ErrOffline is raised when the reachability check fails before a request
// is even attempted.
var ErrOffline = errors.New("no network connectivity")

// ClassifiedError is produced once at the boundary where a raw failure is
// first caught; downstream code never inspects untyped error shapes again.
type ClassifiedError struct {
	Type    ErrorType
	Message string
	cause   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// StatusError carries a non-2xx HTTP status and the message extracted from
// the response body.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Classify maps a raw failure into a ClassifiedError. Already-classified
// errors pass through unchanged.
func Classify(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, ErrOffline) || errors.Is(err, resilience.ErrCircuitOpen) {
		return &ClassifiedError{Type: ErrorNetwork, Message: "no network connectivity", cause: err}
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status >= 500:
			return &ClassifiedError{Type: ErrorServer, Message: se.Message, cause: err}
		case se.Status == http.StatusForbidden || strings.Contains(strings.ToLower(se.Message), "quota"):
			return &ClassifiedError{Type: ErrorQuota, Message: se.Message, cause: err}
		default:
			return &ClassifiedError{Type: ErrorUnknown, Message: se.Message, cause: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ClassifiedError{Type: ErrorTimeout, Message: "request aborted after deadline", cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{Type: ErrorTimeout, Message: "request aborted after deadline", cause: err}
		}
		return &ClassifiedError{Type: ErrorNetwork, Message: "network request failed", cause: err}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "network request failed") || strings.Contains(lower, "connection refused") {
		return &ClassifiedError{Type: ErrorNetwork, Message: "network request failed", cause: err}
	}
	if strings.Contains(lower, "quota") {
		return &ClassifiedError{Type: ErrorQuota, Message: msg, cause: err}
	}

	return &ClassifiedError{Type: ErrorUnknown, Message: msg, cause: err}
}

// errorBody is the JSON error envelope the backend uses.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// ParseErrorResponse extracts a human-readable message from an error
// response, falling back to the status line when the body is not JSON.
func ParseErrorResponse(resp *http.Response) string {
	fallback := fmt.Sprintf("Error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return fallback
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}

	if body.Detail != "" {
		return body.Detail
	}
	if body.Message != "" {
		return body.Message
	}
	return fallback
}
