// File: internal/sanitize/sanitize.go
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/observability"
)

// DefaultMaxLength caps sanitized output when Options.MaxLength is zero.
const DefaultMaxLength = 10000

// Options governs a single sanitization call.
type Options struct {
	// MaxLength is the maximum number of characters returned. Zero means DefaultMaxLength.
	MaxLength int
	// AllowHTML keeps b, i, em, strong and a (href, title, target). Everything
	// else is stripped to its text.
	AllowHTML bool
	// AllowScripts additionally keeps <script src async defer>. It defeats the
	// purpose of sanitizing and is logged on every use; only call sites that
	// render trusted, audited markup may set it.
	AllowScripts bool
}

// Tags and attributes that never survive, whatever the options.
var (
	forbiddenTags  = []string{"style", "iframe", "object", "embed", "link"}
	forbiddenAttrs = []string{"style", "onerror", "onload", "onclick", "onmouseover"}
)

var (
	// C0 controls and DEL, except TAB, LF and CR.
	controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
	linkTargets  = regexp.MustCompile(`^(_blank|_self|_parent|_top)$`)
)

// policies are built once; bluemonday policies are safe for concurrent use
// after construction.
var policies = map[[2]bool]*bluemonday.Policy{
	{false, false}: newPolicy(false, false),
	{true, false}:  newPolicy(true, false),
	{false, true}:  newPolicy(false, true),
	{true, true}:   newPolicy(true, true),
}

func newPolicy(allowHTML, allowScripts bool) *bluemonday.Policy {
	if !allowHTML && !allowScripts {
		return bluemonday.StrictPolicy()
	}

	p := bluemonday.NewPolicy()
	if allowHTML {
		p.AllowStandardURLs()
		p.AllowElements("b", "i", "em", "strong", "a")
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("target").Matching(linkTargets).OnElements("a")
		p.AllowAttrs("title").Globally()
	}
	if allowScripts {
		p.AllowUnsafe(true)
		p.AllowElements("script")
		p.AllowAttrs("src", "async", "defer").OnElements("script")
	}

	skip := forbiddenTags
	if !allowScripts {
		skip = append([]string{"script"}, forbiddenTags...)
	}
	p.SkipElementsContent(skip...)
	return p
}

// Sanitizer strips markup and control characters from untrusted text.
type Sanitizer struct {
	log              *zap.Logger
	defaultMaxLength int
}

// New returns a Sanitizer. defaultMaxLength applies when a call passes a zero
// MaxLength; values <= 0 fall back to DefaultMaxLength.
func New(logger *zap.Logger, defaultMaxLength int) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultMaxLength <= 0 {
		defaultMaxLength = DefaultMaxLength
	}
	return &Sanitizer{
		log:              logger.Named("sanitize"),
		defaultMaxLength: defaultMaxLength,
	}
}

// Sanitize uses the process-wide zap logger and DefaultMaxLength.
func Sanitize(input any, opts Options) string {
	return New(zap.L(), DefaultMaxLength).Sanitize(input, opts)
}

// Sanitize returns a safe rendition of input. nil and inputs that cannot be
// converted to a string yield "". With default options no tag survives and no
// raw < > " ' or backtick remains. Sanitize never panics.
func (s *Sanitizer) Sanitize(input any, opts Options) (out string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic while sanitizing input", zap.Any("panic", r))
			out = ""
		}
	}()

	if input == nil {
		return ""
	}
	text, err := cast.ToStringE(input)
	if err != nil {
		s.log.Debug("Input is not convertible to string", zap.Error(err))
		return ""
	}

	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = s.defaultMaxLength
	}

	if opts.AllowScripts {
		observability.LogSecurityEvent(s.log, observability.EventScriptsAllowed,
			"Sanitizing with script tags allowed",
			zap.Int("input_length", len(text)))
	}

	cleaned := policies[[2]bool{opts.AllowHTML, opts.AllowScripts}].Sanitize(text)
	if !opts.AllowScripts {
		cleaned = strings.ReplaceAll(cleaned, "`", "&#96;")
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = truncate(cleaned, maxLength)
	return controlChars.ReplaceAllString(cleaned, "")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ForbiddenAttrs lists the attributes stripped even when HTML is allowed.
func ForbiddenAttrs() []string {
	return append([]string(nil), forbiddenAttrs...)
}

// ForbiddenTags lists the elements stripped even when HTML is allowed.
func ForbiddenTags() []string {
	return append([]string(nil), forbiddenTags...)
}
