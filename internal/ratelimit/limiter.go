// File: internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
)

const (
	DefaultMaxActions = 5
	DefaultWindow     = 60 * time.Second
)

// Actions subject to limiting.
const (
	ActionScan   = "scan"
	ActionReport = "report"
)

// Level summarises how close an actor is to the limit.
type Level string

const (
	LevelNormal    Level = "Normal"
	LevelModerate  Level = "Moderate"
	LevelHighAlert Level = "High Alert"
)

// LevelFor maps a count of recent actions to a Level.
func LevelFor(count int) Level {
	switch {
	case count >= 4:
		return LevelHighAlert
	case count >= 2:
		return LevelModerate
	default:
		return LevelNormal
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed          bool   `json:"allowed" yaml:"allowed"`
	SecondsRemaining int    `json:"seconds_remaining" yaml:"seconds_remaining"`
	Message          string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Status describes the current window for display.
type Status struct {
	Action           string    `json:"action" yaml:"action"`
	Actor            string    `json:"actor" yaml:"actor"`
	Count            int       `json:"count" yaml:"count"`
	Limit            int       `json:"limit" yaml:"limit"`
	Window           string    `json:"window" yaml:"window"`
	LastActionAt     time.Time `json:"last_action_at,omitempty" yaml:"last_action_at,omitempty"`
	Level            Level     `json:"level" yaml:"level"`
	SecondsRemaining int       `json:"seconds_remaining" yaml:"seconds_remaining"`
}

// state is the persisted form of a window.
type state struct {
	Timestamps   []time.Time `json:"timestamps"`
	LastActionAt time.Time   `json:"last_action_at"`
}

// StateKey returns the store key holding the window for action and actor.
func StateKey(action, actor string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, actor)
}

// Option configures a Limiter or Registry.
type Option func(*settings)

type settings struct {
	maxActions int
	window     time.Duration
	clock      clock.Clock
	log        *zap.Logger
}

func defaultSettings() settings {
	return settings{
		maxActions: DefaultMaxActions,
		window:     DefaultWindow,
		clock:      clock.Real{},
		log:        zap.NewNop(),
	}
}

// WithLimits sets the number of actions permitted per window.
// Non-positive values keep the defaults.
func WithLimits(maxActions int, window time.Duration) Option {
	return func(s *settings) {
		if maxActions > 0 {
			s.maxActions = maxActions
		}
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// Limiter enforces a sliding window of at most maxActions per window for one
// actor and action. Expired timestamps are discarded lazily on every call, so
// the limiter owns no timers or goroutines.
type Limiter struct {
	mu     sync.Mutex
	bucket kvstore.Bucket
	key    string
	action string
	actor  string
	settings
}

// NewLimiter returns a Limiter persisting its window in the primary namespace of store.
func NewLimiter(store kvstore.Store, action, actor string, opts ...Option) *Limiter {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return newLimiter(store, action, actor, s)
}

func newLimiter(store kvstore.Store, action, actor string, s settings) *Limiter {
	l := &Limiter{
		bucket:   kvstore.NewBucket(store, kvstore.Primary),
		key:      StateKey(action, actor),
		action:   action,
		actor:    actor,
		settings: s,
	}
	l.log = s.log.Named("ratelimit").With(zap.String("action", action), zap.String("actor", actor))
	return l
}

// Check reports whether another action is permitted now. It does not record
// one. A storage error denies the action.
func (l *Limiter) Check(ctx context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return Decision{Allowed: false, Message: "Rate limiter unavailable"}, err
	}
	return l.decide(st, l.clock.Now()), nil
}

// Record notes that an action happened now.
func (l *Limiter) Record(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	l.append(&st, l.clock.Now())
	return l.save(ctx, st)
}

// Allow checks and, when permitted, records in one step.
func (l *Limiter) Allow(ctx context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return Decision{Allowed: false, Message: "Rate limiter unavailable"}, err
	}
	now := l.clock.Now()
	d := l.decide(st, now)
	if !d.Allowed {
		return d, nil
	}
	l.append(&st, now)
	if err := l.save(ctx, st); err != nil {
		return Decision{Allowed: false, Message: "Rate limiter unavailable"}, err
	}
	return d, nil
}

// Reset forgets all recorded actions.
func (l *Limiter) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.bucket.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("failed to reset rate limit %s: %w", l.key, err)
	}
	l.log.Debug("Rate limit reset")
	return nil
}

// Status returns the current window for display.
func (l *Limiter) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return Status{}, err
	}
	now := l.clock.Now()
	d := l.decide(st, now)
	return Status{
		Action:           l.action,
		Actor:            l.actor,
		Count:            len(st.Timestamps),
		Limit:            l.maxActions,
		Window:           l.window.String(),
		LastActionAt:     st.LastActionAt,
		Level:            LevelFor(len(st.Timestamps)),
		SecondsRemaining: d.SecondsRemaining,
	}, nil
}

// decide expects st already pruned to now.
func (l *Limiter) decide(st state, now time.Time) Decision {
	if len(st.Timestamps) < l.maxActions {
		return Decision{Allowed: true}
	}
	oldest := st.Timestamps[0]
	for _, t := range st.Timestamps[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	secs := ceilSeconds(oldest.Add(l.window).Sub(now))
	if ceiling := ceilSeconds(l.window); secs > ceiling {
		secs = ceiling
	}
	if secs < 1 {
		secs = 1
	}
	return Decision{
		Allowed:          false,
		SecondsRemaining: secs,
		Message:          fmt.Sprintf("Rate limit exceeded. Please wait %d seconds", secs),
	}
}

func (l *Limiter) append(st *state, now time.Time) {
	st.Timestamps = append(st.Timestamps, now)
	st.LastActionAt = now
}

// load reads the persisted window and drops timestamps that have left it.
// Corrupt state is discarded.
func (l *Limiter) load(ctx context.Context) (state, error) {
	var st state
	raw, err := l.bucket.Get(ctx, l.key)
	if kvstore.IsNotFound(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load rate limit %s: %w", l.key, err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		l.log.Warn("Discarding corrupt rate limit state", zap.Error(err))
		return state{}, nil
	}
	st.Timestamps = prune(st.Timestamps, l.clock.Now(), l.window)
	return st, nil
}

func (l *Limiter) save(ctx context.Context, st state) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit state: %w", err)
	}
	if err := l.bucket.Set(ctx, l.key, string(raw)); err != nil {
		return fmt.Errorf("failed to save rate limit %s: %w", l.key, err)
	}
	return nil
}

// prune keeps the timestamps younger than window, preserving order.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
