// File: internal/validation/daterange.go
package validation

import (
	"time"
)

// Date range failure messages.
const (
	MsgBadDate       = "Invalid date format"
	MsgStartAfterEnd = "Start date cannot be after end date"
	MsgFutureDate    = "Cannot select future dates"
	MsgRangeTooLong  = "Date range cannot exceed 1 year"
)

// dateLayouts are tried in order when parsing range endpoints.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// DateRange is an optional reporting window. Empty endpoints mean "unbounded".
type DateRange struct {
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

// IsZero reports whether either endpoint is missing.
func (r DateRange) IsZero() bool {
	return r.Start == "" || r.End == ""
}

// Bounds parses both endpoints. ok is false when the range is unset or unparsable.
func (r DateRange) Bounds() (start, end time.Time, ok bool) {
	if r.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	start, err := parseDate(r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = parseDate(r.End)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// ValidateDateRange checks a reporting window relative to now. Ranges with a
// missing endpoint are valid. Otherwise both dates must parse, be ordered,
// lie in the past, and start no earlier than one year before now.
func ValidateDateRange(r DateRange, now time.Time) Result {
	if r.IsZero() {
		return Valid()
	}

	start, err := parseDate(r.Start)
	if err != nil {
		return Invalid(MsgBadDate)
	}
	end, err := parseDate(r.End)
	if err != nil {
		return Invalid(MsgBadDate)
	}

	if start.After(end) {
		return Invalid(MsgStartAfterEnd)
	}
	if start.After(now) || end.After(now) {
		return Invalid(MsgFutureDate)
	}
	if start.Before(now.AddDate(-1, 0, 0)) {
		return Invalid(MsgRangeTooLong)
	}
	return Valid()
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
