// File: internal/observability/security.go
package observability

import (
	"go.uber.org/zap"
)

// SecurityEventKey marks log entries that a log pipeline should route to
// security monitoring rather than ordinary diagnostics.
const SecurityEventKey = "security_event"

// Security event names.
const (
	EventCSRFDegraded   = "csrf_degraded"
	EventRateLimited    = "rate_limited"
	EventRejectedInput  = "rejected_input"
	EventScriptsAllowed = "sanitizer_scripts_allowed"
)

// LogSecurityEvent records a security-relevant event. Degradations are logged
// at error level, everything else at warn.
func LogSecurityEvent(logger *zap.Logger, event string, msg string, fields ...zap.Field) {
	if logger == nil {
		logger = GetLogger()
	}
	fields = append([]zap.Field{zap.String(SecurityEventKey, event)}, fields...)
	if event == EventCSRFDegraded {
		logger.Error(msg, fields...)
		return
	}
	logger.Warn(msg, fields...)
}
