// File: internal/validation/domain.go
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxDomainLength is the longest fully-qualified name DNS allows.
const MaxDomainLength = 253

// Failure messages. MsgOpaque replaces all of them when detail is suppressed.
const (
	MsgOpaque        = "Invalid domain"
	MsgInvalidType   = "Invalid input type"
	MsgEmpty         = "Domain cannot be empty"
	MsgNotAllowed    = "This domain is not allowed for scanning"
	MsgMalicious     = "Domain contains potentially malicious content"
	MsgInvalidFormat = "Invalid domain format. Use example.com format"
	MsgBadSequence   = "Invalid domain format"
	MsgInvalidTLD    = "Invalid top-level domain"
	MsgBadLabel      = "Domain segment too long or too short"
)

var msgTooLong = fmt.Sprintf("Domain too long (max %d characters)", MaxDomainLength)

// domainPattern matches one or more hyphen-separated alphanumeric labels
// joined by single dots and ending in an alphabetic TLD.
var domainPattern = regexp.MustCompile(`^(?:(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,})$`)

// blacklist is evaluated in order; the first match rejects the candidate.
var blacklist = []*regexp.Regexp{
	// loopback and unspecified
	regexp.MustCompile(`(?i)^localhost$`),
	regexp.MustCompile(`^127\.\d+\.\d+\.\d+$`),
	regexp.MustCompile(`^0\.\d+\.\d+\.\d+$`),
	regexp.MustCompile(`^::1$`),

	// RFC 1918
	regexp.MustCompile(`^10\.\d+\.\d+\.\d+$`),
	regexp.MustCompile(`^172\.(1[6-9]|2\d|3[0-1])\.\d+\.\d+$`),
	regexp.MustCompile(`^192\.168\.\d+\.\d+$`),

	// reserved test names
	regexp.MustCompile(`(?i)^test\.`),
	regexp.MustCompile(`(?i)^example\.`),
	regexp.MustCompile(`(?i)\.test$`),
	regexp.MustCompile(`(?i)\.example$`),

	// local network suffixes and file-extension shaped input
	regexp.MustCompile(`(?i)\.(local|lan|home)$`),
	regexp.MustCompile(`(?i)\.(php|asp|aspx|jsp|pl)$`),
	regexp.MustCompile(`(?i)\.(exe|bat|cmd|sh|js|vbs)$`),
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile("[<>\"'`]"),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+=`),
	regexp.MustCompile(`(?i)expression\(`),
	regexp.MustCompile(`(?i)url\(`),
	regexp.MustCompile(`(?i)@import`),
	regexp.MustCompile(`(?i)\\x[0-9a-f]{2}`),
	regexp.MustCompile(`(?i)\\u[0-9a-f]{4}`),
	regexp.MustCompile(`&[#\w]+;`),
}

// ValidateDomain checks candidate against the structural, blacklist and
// injection rules and stops at the first failure. candidate is typed any
// because it usually arrives from decoded JSON or form values; anything other
// than a string is rejected.
//
// With showErrors false every failure carries MsgOpaque so that callers can
// echo the result without revealing which rule tripped.
func ValidateDomain(candidate any, showErrors bool) Result {
	fail := func(msg string) Result {
		if !showErrors {
			msg = MsgOpaque
		}
		return Invalid(msg)
	}

	raw, ok := candidate.(string)
	if !ok {
		return fail(MsgInvalidType)
	}

	domain := strings.ToLower(strings.TrimSpace(raw))

	if len(domain) == 0 {
		return fail(MsgEmpty)
	}
	if len(domain) > MaxDomainLength {
		return fail(msgTooLong)
	}

	for _, p := range blacklist {
		if p.MatchString(domain) {
			return fail(MsgNotAllowed)
		}
	}

	for _, p := range injectionPatterns {
		if p.MatchString(domain) {
			return fail(MsgMalicious)
		}
	}

	if !domainPattern.MatchString(domain) {
		return fail(MsgInvalidFormat)
	}

	// Redundant with domainPattern; kept as an independent check.
	for _, seq := range []string{"..", ".-", "-.", "--"} {
		if strings.Contains(domain, seq) {
			return fail(MsgBadSequence)
		}
	}

	labels := strings.Split(domain, ".")
	tld := labels[len(labels)-1]
	if len(tld) < 2 || len(tld) > 63 {
		return fail(MsgInvalidTLD)
	}
	for _, label := range labels {
		if len(label) < 1 || len(label) > 63 {
			return fail(MsgBadLabel)
		}
	}

	return Valid()
}

// NormalizeDomain returns the trimmed, lowercased form that ValidateDomain
// checks. It does not validate.
func NormalizeDomain(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
