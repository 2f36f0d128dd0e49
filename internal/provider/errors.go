package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// GatewayError is returned by outbound adapters. Message carries the text the
// remote side reported, or a local description for network faults.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if gateway := strings.TrimSpace(e.Gateway); gateway != "" {
		parts = append(parts, gateway+" error")
	} else {
		parts = append(parts, "gateway error")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure is likely to clear on a later attempt.
// The item retry budget applies either way; this only affects logging and metrics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Reason is the human-readable text recorded on the item for a failed attempt.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) && gatewayErr.Cause == nil {
		if msg := strings.TrimSpace(gatewayErr.Message); msg != "" {
			return msg
		}
	}
	return err.Error()
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func requestFailure(gateway string, err error) *GatewayError {
	return &GatewayError{
		Gateway:   gateway,
		Message:   "request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
