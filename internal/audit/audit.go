// File: internal/audit/audit.go
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/sanitize"
)

const (
	// Key holds the JSON-encoded log in the primary namespace.
	Key = "report_audit_logs"
	// MaxEntries is the number of entries retained; older ones are dropped.
	MaxEntries = 100
	// ListLimit caps the entries returned by List.
	ListLimit = 50

	maxFieldLength = 500
)

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity returns the Severity named by s, or SeverityInfo if s is not
// one of the four known values.
func ParseSeverity(s string) Severity {
	switch sev := Severity(s); sev {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh:
		return sev
	default:
		return SeverityInfo
	}
}

// Event is the caller-supplied part of an entry.
type Event struct {
	Action    string
	Actor     string
	Details   string
	Host      string
	UserAgent string
	Severity  Severity
}

// Entry is one persisted audit record. All text fields are sanitized.
type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Action    string    `json:"action" yaml:"action"`
	Actor     string    `json:"user" yaml:"user"`
	Details   string    `json:"details" yaml:"details"`
	Host      string    `json:"ip,omitempty" yaml:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty" yaml:"user_agent,omitempty"`
	Severity  Severity  `json:"severity" yaml:"severity"`
}

// Log is an append-only, size-capped audit trail kept in a kvstore.
type Log struct {
	mu        sync.Mutex
	bucket    kvstore.Bucket
	clock     clock.Clock
	sanitizer *sanitize.Sanitizer
	log       *zap.Logger
}

// Option configures a Log.
type Option func(*Log)

func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.log = logger
		}
	}
}

// New returns a Log persisting to the primary namespace of store.
func New(store kvstore.Store, opts ...Option) *Log {
	l := &Log{
		bucket: kvstore.NewBucket(store, kvstore.Primary),
		clock:  clock.Real{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("audit")
	l.sanitizer = sanitize.New(l.log, maxFieldLength)
	return l
}

// Record sanitizes ev, prepends it to the log and trims the log to MaxEntries.
func (l *Log) Record(ctx context.Context, ev Event) (Entry, error) {
	entry := l.clean(Entry{
		ID:        uuid.NewString(),
		Timestamp: l.clock.Now().UTC(),
		Action:    ev.Action,
		Actor:     ev.Actor,
		Details:   ev.Details,
		Host:      ev.Host,
		UserAgent: ev.UserAgent,
		Severity:  ev.Severity,
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return entry, err
	}
	entries = append([]Entry{entry}, entries...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	if err := l.save(ctx, entries); err != nil {
		return entry, err
	}
	l.log.Debug("Audit entry recorded",
		zap.String("action", entry.Action),
		zap.String("severity", string(entry.Severity)))
	return entry, nil
}

// List returns up to limit entries, newest first. limit <= 0 or above
// ListLimit means ListLimit. Entries are sanitized again on the way out since
// the store may have been edited by hand.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > ListLimit {
		limit = ListLimit
	}

	l.mu.Lock()
	entries, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i] = l.clean(entries[i])
	}
	return entries, nil
}

// Clear removes every entry.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bucket.Delete(ctx, Key); err != nil {
		return fmt.Errorf("failed to clear audit log: %w", err)
	}
	return nil
}

func (l *Log) clean(e Entry) Entry {
	s := func(v string) string { return l.sanitizer.Sanitize(v, sanitize.Options{}) }
	e.Action = s(e.Action)
	e.Actor = s(e.Actor)
	e.Details = s(e.Details)
	e.Host = s(e.Host)
	e.UserAgent = s(e.UserAgent)
	e.Severity = ParseSeverity(string(e.Severity))
	return e
}

// load returns the stored entries. A corrupt log is logged and treated as empty.
func (l *Log) load(ctx context.Context) ([]Entry, error) {
	raw, err := l.bucket.Get(ctx, Key)
	if kvstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		l.log.Warn("Discarding corrupt audit log", zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

func (l *Log) save(ctx context.Context, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}
	if err := l.bucket.Set(ctx, Key, string(raw)); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
