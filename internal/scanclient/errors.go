package scanclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrBadRequest  = errors.New("scan request rejected")
	ErrRateLimited = errors.New("scan backend rate limit exceeded")
	ErrUnavailable = errors.New("scan backend unavailable")
	ErrUnreachable = errors.New("scan backend unreachable")
	ErrTimeout     = errors.New("scan backend timed out")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Detail     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		if e.Detail != "" {
			return e.Detail
		}
		return "Invalid request. Please check domain format."
	case e.StatusCode == http.StatusTooManyRequests:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded. Please wait %d seconds before trying again.", int(e.RetryAfter.Seconds()))
		}
		return "Rate limit exceeded. Please wait 1 minute before trying again."
	case e.StatusCode == http.StatusInternalServerError:
		return "Backend server error. The scan endpoint crashed. Check backend logs."
	case e.StatusCode >= http.StatusBadGateway && e.StatusCode <= http.StatusGatewayTimeout:
		return "Backend service unavailable. Please try again later."
	case e.Detail != "":
		return e.Detail
	default:
		return fmt.Sprintf("Scan failed with status %d", e.StatusCode)
	}
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusInternalServerError,
		e.StatusCode >= http.StatusBadGateway && e.StatusCode <= http.StatusGatewayTimeout:
		return ErrUnavailable
	}
	return nil
}

// parseRetryAfter accepts the delay-seconds form of Retry-After.
func parseRetryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
