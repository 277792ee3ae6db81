// File: internal/validation/result.go
package validation

// Result is the outcome of a validation. Error is empty when Valid is true.
type Result struct {
	Valid bool   `json:"valid" yaml:"valid"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Valid returns a passing Result.
func Valid() Result { return Result{Valid: true} }

// Invalid returns a failing Result carrying msg.
func Invalid(msg string) Result { return Result{Valid: false, Error: msg} }
