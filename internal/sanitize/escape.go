package sanitize

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
	"`", "&#x60;",
	"=", "&#x3D;",
)

// EscapeHTML replaces each of & < > " ' / ` = with its entity. Every other
// character passes through unchanged. Ampersands are escaped once, so
// EscapeHTML("&lt;") is "&amp;lt;".
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
