package policy

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/threatscope/internal/ratelimit"
	"github.com/xkilldash9x/threatscope/internal/validation"
)

var (
	// ErrRateLimited is wrapped by *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrRejectedInput is wrapped by *RejectedInputError.
	ErrRejectedInput = errors.New("rejected input")
)

// RateLimitError reports a denied action and when to retry.
type RateLimitError struct {
	Action   string
	Actor    string
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return e.Decision.Message
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RejectedInputError carries the validation result that failed.
type RejectedInputError struct {
	Result validation.Result
}

func (e *RejectedInputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejectedInput, e.Result.Error)
}

func (e *RejectedInputError) Unwrap() error { return ErrRejectedInput }
