// File: internal/policy/policy.go
package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/audit"
	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/csrf"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/observability"
	"github.com/xkilldash9x/threatscope/internal/ratelimit"
	"github.com/xkilldash9x/threatscope/internal/sanitize"
	"github.com/xkilldash9x/threatscope/internal/validation"
)

// SecurityPolicy owns the clock and logger shared by the validator,
// sanitizer, CSRF manager, rate limiters and audit log, and gates actions on
// all of them.
type SecurityPolicy struct {
	clock  clock.Clock
	log    *zap.Logger
	random io.Reader

	showErrors bool
	maxActions int
	window     time.Duration
	csrfTTL    time.Duration
	maxLength  int

	csrf      *csrf.Manager
	limiters  *ratelimit.Registry
	audit     *audit.Log
	sanitizer *sanitize.Sanitizer
}

// Option configures a SecurityPolicy.
type Option func(*SecurityPolicy)

func WithClock(c clock.Clock) Option {
	return func(p *SecurityPolicy) { p.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *SecurityPolicy) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRandom sets the entropy source for CSRF tokens.
func WithRandom(r io.Reader) Option {
	return func(p *SecurityPolicy) { p.random = r }
}

func WithRateLimit(maxActions int, window time.Duration) Option {
	return func(p *SecurityPolicy) {
		p.maxActions = maxActions
		p.window = window
	}
}

func WithCSRFTTL(ttl time.Duration) Option {
	return func(p *SecurityPolicy) { p.csrfTTL = ttl }
}

// WithShowErrors controls whether validation failures carry detailed messages.
func WithShowErrors(show bool) Option {
	return func(p *SecurityPolicy) { p.showErrors = show }
}

// WithMaxLength sets the sanitizer's default output cap.
func WithMaxLength(n int) Option {
	return func(p *SecurityPolicy) { p.maxLength = n }
}

// WithConfig applies every setting in cfg.
func WithConfig(cfg config.PolicyConfig) Option {
	return func(p *SecurityPolicy) {
		p.showErrors = cfg.ShowErrors
		p.maxActions = cfg.RateLimit.MaxActions
		p.window = cfg.RateLimit.Window
		p.csrfTTL = cfg.CSRF.TTL
		p.maxLength = cfg.Sanitize.MaxLength
	}
}

// New builds a SecurityPolicy over store.
func New(store kvstore.Store, opts ...Option) *SecurityPolicy {
	p := &SecurityPolicy{
		clock:      clock.Real{},
		log:        zap.NewNop(),
		showErrors: true,
		maxActions: ratelimit.DefaultMaxActions,
		window:     ratelimit.DefaultWindow,
		csrfTTL:    csrf.DefaultTTL,
		maxLength:  sanitize.DefaultMaxLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("policy")

	csrfOpts := []csrf.Option{
		csrf.WithClock(p.clock),
		csrf.WithTTL(p.csrfTTL),
		csrf.WithLogger(p.log),
	}
	if p.random != nil {
		csrfOpts = append(csrfOpts, csrf.WithRandom(p.random))
	}
	p.csrf = csrf.NewManager(store, csrfOpts...)
	p.limiters = ratelimit.NewRegistry(store,
		ratelimit.WithClock(p.clock),
		ratelimit.WithLimits(p.maxActions, p.window),
		ratelimit.WithLogger(p.log))
	p.audit = audit.New(store, audit.WithClock(p.clock), audit.WithLogger(p.log))
	p.sanitizer = sanitize.New(p.log, p.maxLength)
	return p
}

// ValidateDomain validates candidate with the policy's error detail setting.
func (p *SecurityPolicy) ValidateDomain(candidate any) validation.Result {
	return validation.ValidateDomain(candidate, p.showErrors)
}

// Sanitize cleans input. A zero opts.MaxLength uses the policy's configured cap.
func (p *SecurityPolicy) Sanitize(input any, opts sanitize.Options) string {
	return p.sanitizer.Sanitize(input, opts)
}

// CSRFToken returns the current anti-forgery token. A degraded token is
// still returned, together with the error, after being logged and audited.
func (p *SecurityPolicy) CSRFToken(ctx context.Context) (string, error) {
	tok, err := p.csrf.Token(ctx)
	if err != nil {
		p.reportDegraded(ctx, err)
	}
	return tok, err
}

// RotateCSRFToken replaces the token unconditionally.
func (p *SecurityPolicy) RotateCSRFToken(ctx context.Context, actor string) (string, error) {
	tok, err := p.csrf.Rotate(ctx)
	if err != nil {
		p.reportDegraded(ctx, err)
		return tok, err
	}
	p.record(ctx, audit.Event{
		Action:   "csrf_rotated",
		Actor:    actor,
		Details:  "CSRF token rotated",
		Severity: audit.SeverityLow,
	})
	return tok, nil
}

// ValidateCSRFToken compares candidate with the stored token.
func (p *SecurityPolicy) ValidateCSRFToken(ctx context.Context, candidate string) bool {
	ok := p.csrf.Validate(ctx, candidate)
	if !ok {
		p.log.Debug("CSRF token rejected")
	}
	return ok
}

// CSRFExpiresAt returns the stored token expiry, if any.
func (p *SecurityPolicy) CSRFExpiresAt(ctx context.Context) (time.Time, bool) {
	return p.csrf.ExpiresAt(ctx)
}

// Limiter returns the rate limiter for action and actor.
func (p *SecurityPolicy) Limiter(action, actor string) *ratelimit.Limiter {
	return p.limiters.Limiter(action, actor)
}

// Audit returns the audit log.
func (p *SecurityPolicy) Audit() *audit.Log {
	return p.audit
}

// Admit gates action for actor: the rate limit is checked, then validate runs,
// then the action is recorded. An error from validate is returned unchanged
// and does not consume the actor's budget.
func (p *SecurityPolicy) Admit(ctx context.Context, action, actor string, validate func() error) error {
	lim := p.limiters.Limiter(action, actor)

	d, err := lim.Check(ctx)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !d.Allowed {
		return p.denied(ctx, action, actor, d)
	}

	if validate != nil {
		if err := validate(); err != nil {
			return err
		}
	}

	// Allow re-checks under the limiter's lock, so a concurrent caller that
	// took the last slot since Check still denies this one.
	d, err = lim.Allow(ctx)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", action, err)
	}
	if !d.Allowed {
		return p.denied(ctx, action, actor, d)
	}
	return nil
}

// Authorize admits action on rawDomain for actor and returns the normalized
// domain.
func (p *SecurityPolicy) Authorize(ctx context.Context, action, actor, rawDomain string) (string, error) {
	err := p.Admit(ctx, action, actor, func() error {
		res := p.ValidateDomain(rawDomain)
		if res.Valid {
			return nil
		}
		return p.Reject(ctx, action, actor, res, rawDomain)
	})
	if err != nil {
		return "", err
	}
	return validation.NormalizeDomain(rawDomain), nil
}

// Reject logs and audits a failed validation and returns it as a
// *RejectedInputError.
func (p *SecurityPolicy) Reject(ctx context.Context, action, actor string, res validation.Result, input string) error {
	observability.LogSecurityEvent(p.log, observability.EventRejectedInput,
		"Rejected input",
		zap.String("action", action),
		zap.String("actor", actor),
		zap.String("reason", res.Error))
	p.record(ctx, audit.Event{
		Action:   action + "_rejected",
		Actor:    actor,
		Details:  fmt.Sprintf("%s: %s", res.Error, input),
		Severity: audit.SeverityMedium,
	})
	return &RejectedInputError{Result: res}
}

func (p *SecurityPolicy) denied(ctx context.Context, action, actor string, d ratelimit.Decision) error {
	observability.LogSecurityEvent(p.log, observability.EventRateLimited,
		"Action rate limited",
		zap.String("action", action),
		zap.String("actor", actor),
		zap.Int("seconds_remaining", d.SecondsRemaining))
	p.record(ctx, audit.Event{
		Action:   action + "_rate_limited",
		Actor:    actor,
		Details:  d.Message,
		Severity: audit.SeverityMedium,
	})
	return &RateLimitError{Action: action, Actor: actor, Decision: d}
}

func (p *SecurityPolicy) reportDegraded(ctx context.Context, err error) {
	if !errors.Is(err, csrf.ErrDegraded) {
		return
	}
	observability.LogSecurityEvent(p.log, observability.EventCSRFDegraded,
		"CSRF token degraded to fallback generator",
		zap.Error(err))
	p.record(ctx, audit.Event{
		Action:   "csrf_degraded",
		Actor:    "system",
		Details:  "Fallback CSRF token issued",
		Severity: audit.SeverityHigh,
	})
}

// record writes an audit entry; failures are logged only.
func (p *SecurityPolicy) record(ctx context.Context, ev audit.Event) {
	if _, err := p.audit.Record(ctx, ev); err != nil {
		p.log.Warn("Failed to write audit entry", zap.String("action", ev.Action), zap.Error(err))
	}
}
