// File: internal/scanclient/client.go
package scanclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/threatscope/api/schemas"
	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/csrf"
)

// HeaderCSRFToken carries the anti-forgery token on outbound requests.
const HeaderCSRFToken = "X-CSRF-Token"

const maxBodyBytes = 1 << 20

// TokenSource supplies the CSRF token attached to each scan request.
type TokenSource interface {
	CSRFToken(ctx context.Context) (string, error)
}

// Client talks to the scan backend.
type Client struct {
	base          *url.URL
	http          *http.Client
	pacer         *rate.Limiter
	tokens        TokenSource
	timeout       time.Duration
	healthTimeout time.Duration
	log           *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Client from cfg. The base URL must be absolute http or https.
func New(cfg config.ScanClientConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid scan backend URL %q: %w", cfg.BaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid scan backend URL %q: want http(s)://host[:port]", cfg.BaseURL)
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		base:          base,
		pacer:         rate.NewLimiter(limit, burst),
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		log:           zap.NewNop(),
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: newTransport(cfg, c.log)}
	}
	c.log = c.log.Named("scanclient")
	return c, nil
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string { return c.base.String() }

// Scan checks the backend is up and then scans domain. Non-2xx responses
// come back as *StatusError.
func (c *Client) Scan(ctx context.Context, domain string) (*schemas.ScanResult, error) {
	if err := c.ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("Backend health check failed", zap.Error(err))
		return nil, fmt.Errorf("%w: cannot connect to backend at %s. Make sure it's running", ErrUnreachable, c.base)
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scan cancelled while waiting for pacer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint("/scan", url.Values{"domain": {domain}}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scan request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.CSRFToken(ctx)
		if err != nil && !errors.Is(err, csrf.ErrDegraded) {
			return nil, fmt.Errorf("failed to obtain CSRF token: %w", err)
		}
		if tok != "" {
			req.Header.Set(HeaderCSRFToken, tok)
		}
	}

	c.log.Debug("Sending scan request", zap.String("domain", domain))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(reqCtx, err, c.timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var result schemas.ScanResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode scan response: %w", err)
	}
	c.log.Info("Scan completed", zap.String("domain", result.Domain), zap.String("scan_id", result.ScanID))
	return &result, nil
}

// HealthReport is the outcome of Health.
type HealthReport struct {
	Status  string          `json:"status" yaml:"status"`
	Data    *schemas.Health `json:"data,omitempty" yaml:"data,omitempty"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
	Latency time.Duration   `json:"latency" yaml:"latency"`
}

// Healthy reports whether the backend answered.
func (h HealthReport) Healthy() bool { return h.Status == schemas.StatusHealthy }

// Health probes /health within the health timeout. It never fails; an
// unreachable backend is reported as unhealthy.
func (c *Client) Health(ctx context.Context) HealthReport {
	start := time.Now()
	var h schemas.Health
	err := c.getJSON(ctx, "/health", &h)
	rep := HealthReport{Latency: time.Since(start)}
	if err != nil {
		rep.Status = "unhealthy"
		rep.Error = err.Error()
		return rep
	}
	rep.Status = schemas.StatusHealthy
	rep.Data = &h
	return rep
}

// Probe is one endpoint check in a Diagnosis.
type Probe struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	OK         bool   `json:"ok" yaml:"ok"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Diagnosis summarises connectivity to the backend.
type Diagnosis struct {
	BaseURL   string  `json:"base_url" yaml:"base_url"`
	Connected bool    `json:"connected" yaml:"connected"`
	Probes    []Probe `json:"probes" yaml:"probes"`
}

// diagnosticPaths are probed in order by Diagnose.
var diagnosticPaths = []string{"/", "/health", "/scan?domain=test.com"}

// Diagnose probes each backend endpoint in turn. The backend counts the
// scan probe against its rate limit.
func (c *Client) Diagnose(ctx context.Context) Diagnosis {
	d := Diagnosis{BaseURL: c.base.String()}
	for _, p := range diagnosticPaths {
		probe := Probe{Endpoint: p}
		status, err := c.probe(ctx, p)
		probe.StatusCode = status
		if err != nil {
			probe.Error = err.Error()
		} else {
			probe.OK = true
			d.Connected = true
		}
		d.Probes = append(d.Probes, probe)
	}
	return d
}

func (c *Client) probe(ctx context.Context, pathAndQuery string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+pathAndQuery, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.transportError(ctx, err, c.healthTimeout)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (c *Client) ping(ctx context.Context) error {
	var h schemas.Health
	return c.getJSON(ctx, "/health", &h)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, err, c.healthTimeout)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// transportError maps a failed round trip to a descriptive error. A
// cancelled parent context is returned as is.
func (c *Client) transportError(ctx context.Context, err error, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: request timeout after %s. Backend might be slow or unresponsive", ErrTimeout, timeout)
	}
	return fmt.Errorf("%w: network error. Cannot connect to %s. Is the backend running?: %v", ErrUnreachable, c.base, err)
}

func (c *Client) statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var body schemas.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err == nil {
		se.Detail = body.Detail
		se.RetryAfter = time.Duration(body.RetryAfter) * time.Second
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if d, ok := parseRetryAfter(ra); ok {
			se.RetryAfter = d
		}
	}
	c.log.Warn("Backend returned an error", zap.Int("status", se.StatusCode), zap.String("detail", se.Detail))
	return se
}

func newTransport(cfg config.ScanClientConfig, log *zap.Logger) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}
	t := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed dev certs
		},
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		log.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}
	return t
}
