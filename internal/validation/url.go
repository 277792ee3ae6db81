// File: internal/validation/url.go
package validation

import (
	"net/url"
	"strings"
)

// IsValidURL reports whether raw is an absolute http or https URL whose host
// passes ValidateDomain. IP-literal hosts fail the domain grammar and are
// therefore rejected.
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	return ValidateDomain(host, false).Valid
}
