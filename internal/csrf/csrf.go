// File: internal/csrf/csrf.go
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
)

const (
	// TokenKey holds the token in both namespaces.
	TokenKey = "csrf_token"
	// ExpiresKey holds the expiry, in Unix milliseconds, in the primary namespace.
	ExpiresKey = "csrf_token_expires"

	// TokenLength is the length of a generated token: 32 random bytes, hex encoded.
	TokenLength = 64
	tokenBytes  = TokenLength / 2

	DefaultTTL = 24 * time.Hour
)

// ErrDegraded is wrapped by every error returned alongside a fallback token.
// The fallback is not cryptographically random and must be treated as a
// security degradation, not a normal result.
var ErrDegraded = errors.New("csrf: degraded token")

// Manager issues and checks the anti-forgery token. The token is replicated
// to a primary and a secondary namespace; the expiry lives only in the primary.
type Manager struct {
	mu      sync.Mutex
	tokens  *kvstore.Replicated
	primary kvstore.Bucket
	clock   clock.Clock
	random  io.Reader
	ttl     time.Duration
	log     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRandom sets the entropy source. Defaults to crypto/rand.Reader.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// WithTTL sets the token lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager returns a Manager persisting to store.
func NewManager(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		clock:  clock.Real{},
		random: rand.Reader,
		ttl:    DefaultTTL,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("csrf")
	m.primary = kvstore.NewBucket(store, kvstore.Primary)
	m.tokens = kvstore.NewReplicated(m.primary, kvstore.NewBucket(store, kvstore.Secondary), m.log)
	return m
}

// Token returns the current token, generating a fresh one if none is stored,
// the stored one is malformed, or it has expired.
//
// On storage or entropy failure Token still returns a usable token together
// with an error wrapping ErrDegraded.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.tokens.Get(ctx, TokenKey)
	if err != nil && !kvstore.IsNotFound(err) {
		return m.degrade(err)
	}
	if len(tok) < TokenLength {
		return m.regenerate(ctx)
	}

	expired, err := m.expired(ctx)
	if err != nil {
		return m.degrade(err)
	}
	if expired {
		m.log.Debug("Token expired, regenerating")
		return m.regenerate(ctx)
	}
	return tok, nil
}

// Rotate discards the current token and issues a new one.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regenerate(ctx)
}

// Validate reports whether candidate equals the stored token. The comparison
// takes time independent of where the strings differ. Any storage failure
// yields false.
func (m *Manager) Validate(ctx context.Context, candidate string) bool {
	if candidate == "" {
		return false
	}

	m.mu.Lock()
	stored, err := m.tokens.Get(ctx, TokenKey)
	m.mu.Unlock()
	if err != nil || stored == "" {
		return false
	}
	if len(stored) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// ExpiresAt returns the stored expiry, if any.
func (m *Manager) ExpiresAt(ctx context.Context) (time.Time, bool) {
	raw, err := m.primary.Get(ctx, ExpiresKey)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// expired reports whether a stored expiry lies in the past. A missing expiry
// leaves the token valid; an unparseable one counts as expired.
func (m *Manager) expired(ctx context.Context) (bool, error) {
	raw, err := m.primary.Get(ctx, ExpiresKey)
	if kvstore.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.log.Warn("Discarding unparseable token expiry", zap.String("value", raw))
		return true, nil
	}
	return m.clock.Now().UnixMilli() > ms, nil
}

func (m *Manager) regenerate(ctx context.Context) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return m.degrade(fmt.Errorf("read random source: %w", err))
	}
	tok := hex.EncodeToString(buf)

	if err := m.tokens.Set(ctx, TokenKey, tok); err != nil {
		return m.degrade(err)
	}
	expires := m.clock.Now().Add(m.ttl).UnixMilli()
	if err := m.primary.Set(ctx, ExpiresKey, strconv.FormatInt(expires, 10)); err != nil {
		return m.degrade(err)
	}
	return tok, nil
}

func (m *Manager) degrade(cause error) (string, error) {
	return fallbackToken(), fmt.Errorf("%w: %w", ErrDegraded, cause)
}

// fallbackToken joins two base-36 strings from the non-cryptographic generator.
func fallbackToken() string {
	return strconv.FormatUint(mrand.Uint64(), 36) + strconv.FormatUint(mrand.Uint64(), 36)
}
