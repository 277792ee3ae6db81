package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/threatscope/api/schemas"
	"github.com/xkilldash9x/threatscope/internal/audit"
	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/policy"
	"github.com/xkilldash9x/threatscope/internal/ratelimit"
	"github.com/xkilldash9x/threatscope/internal/report"
	"github.com/xkilldash9x/threatscope/internal/server"
	"github.com/xkilldash9x/threatscope/internal/validation"
)

// memoryProvider hands every command the same in-memory store, so state
// carries across invocations like it would with sqlite.
type memoryProvider struct {
	store *kvstore.Memory
	opens int
}

func (p *memoryProvider) Open(context.Context, config.StoreConfig, *zap.Logger) (kvstore.Store, func(), error) {
	p.opens++
	return p.store, func() {}, nil
}

type failingProvider struct{ err error }

func (p failingProvider) Open(context.Context, config.StoreConfig, *zap.Logger) (kvstore.Store, func(), error) {
	return nil, nil, p.err
}

func TestMain(m *testing.M) {
	// Keep a developer's ~/.threatscope/config.yaml out of the tests.
	home, err := os.MkdirTemp("", "threatscope-home")
	if err != nil {
		panic(err)
	}
	os.Setenv("HOME", home)
	os.Setenv("THREATSCOPE_LOGGER_LEVEL", "error")
	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{store: kvstore.NewMemory()}
}

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, p storeProvider, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(p)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exit *exitError
	require.True(t, errors.As(err, &exit), "expected an exitError, got %v", err)
	return exit.code
}

func TestValidateCommand(t *testing.T) {
	p := newMemoryProvider()

	t.Run("all valid", func(t *testing.T) {
		out, err := execute(t, p, "", "validate", "google.com", "  Mail.Google.COM ")
		require.NoError(t, err)
		assert.Contains(t, out, "VALID    google.com")
		assert.Contains(t, out, "VALID    mail.google.com")
	})

	t.Run("invalid domains set the exit code", func(t *testing.T) {
		out, err := execute(t, p, "", "validate", "google.com", "localhost", "bad domain")
		require.Error(t, err)
		assert.Equal(t, 2, exitCode(t, err))
		assert.Contains(t, err.Error(), "2 of 3")
		assert.Contains(t, out, validation.MsgNotAllowed)
	})

	t.Run("hidden errors", func(t *testing.T) {
		out, err := execute(t, p, "", "validate", "--show-errors=false", "localhost")
		require.Error(t, err)
		assert.Contains(t, out, validation.MsgOpaque)
		assert.NotContains(t, out, validation.MsgNotAllowed)
	})

	t.Run("stdin list keeps order as JSON", func(t *testing.T) {
		list := "# targets\ngithub.com\n\nlocalhost\ngoogle.com\n"
		out, err := execute(t, p, list, "validate", "-f", "-", "-o", "json")
		require.Error(t, err)

		var got []domainVerdict
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.Len(t, got, 3)
		assert.Equal(t, "github.com", got[0].Input)
		assert.True(t, got[0].Valid)
		assert.False(t, got[1].Valid)
		assert.Equal(t, "google.com", got[2].Normalized)
	})

	t.Run("file list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "domains.txt")
		require.NoError(t, os.WriteFile(path, []byte("google.com\ngithub.com\n"), 0o600))
		out, err := execute(t, p, "", "validate", "--file", path)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "VALID"))
	})

	t.Run("requires input", func(t *testing.T) {
		_, err := execute(t, p, "", "validate")
		assert.ErrorContains(t, err, "requires at least one domain")
	})

	assert.Zero(t, p.opens, "validate does not need the store")
}

func TestSanitizeCommand(t *testing.T) {
	p := newMemoryProvider()

	out, err := execute(t, p, "", "sanitize", "<script>alert(1)</script><b>bold</b> text")
	require.NoError(t, err)
	assert.Equal(t, "bold text\n", out)

	out, err = execute(t, p, "", "sanitize", "--allow-html", "<b>bold</b> text")
	require.NoError(t, err)
	assert.Equal(t, "<b>bold</b> text\n", out)

	out, err = execute(t, p, "abcdefghij\n", "sanitize", "--max-length", "4")
	require.NoError(t, err)
	assert.Equal(t, "abcd\n", out)

	out, err = execute(t, p, "", "sanitize", "-o", "yaml", "fish & chips")
	require.NoError(t, err)
	var got struct {
		Output string `yaml:"output"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "fish &amp; chips", got.Output)

	_, err = execute(t, p, "", "sanitize", "-o", "xml", "x")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestCSRFCommands(t *testing.T) {
	p := newMemoryProvider()

	out, err := execute(t, p, "", "csrf", "token", "-o", "json")
	require.NoError(t, err)
	var first tokenView
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Len(t, first.Token, 64)
	assert.False(t, first.ExpiresAt.IsZero())
	assert.False(t, first.Degraded)

	out, err = execute(t, p, "", "csrf", "token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, first.Token+"\n"), "token is stable until it expires")
	assert.Contains(t, out, "Expires:")

	out, err = execute(t, p, "", "csrf", "verify", first.Token)
	require.NoError(t, err)
	assert.Contains(t, out, "Token is valid.")

	out, err = execute(t, p, "", "--actor", "alice", "csrf", "rotate", "-o", "json")
	require.NoError(t, err)
	var rotated tokenView
	require.NoError(t, json.Unmarshal([]byte(out), &rotated))
	assert.NotEqual(t, first.Token, rotated.Token)

	_, err = execute(t, p, "", "csrf", "verify", first.Token)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(t, err))

	out, err = execute(t, p, "", "audit", "list", "-o", "json")
	require.NoError(t, err)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "csrf_rotated", entries[0].Action)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestActorIsPersisted(t *testing.T) {
	p := newMemoryProvider()

	_, err := execute(t, p, "", "csrf", "token")
	require.NoError(t, err)

	id, err := kvstore.NewBucket(p.store, kvstore.Primary).Get(context.Background(), actorKey)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	actor, err := resolveActor(context.Background(), p.store, config.SessionConfig{})
	require.NoError(t, err)
	assert.Equal(t, id, actor, "the generated actor is reused")

	actor, err = resolveActor(context.Background(), p.store, config.SessionConfig{ActorID: " bob "})
	require.NoError(t, err)
	assert.Equal(t, "bob", actor)
}

func TestLimitCommands(t *testing.T) {
	p := newMemoryProvider()
	ctx := context.Background()

	pol := policy.New(p.store)
	for range 3 {
		_, err := pol.Limiter(ratelimit.ActionScan, "carol").Allow(ctx)
		require.NoError(t, err)
	}

	out, err := execute(t, p, "", "--actor", "carol", "limit", "status", "-o", "json")
	require.NoError(t, err)
	var st ratelimit.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, ratelimit.LevelModerate, st.Level)
	assert.Equal(t, "carol", st.Actor)

	out, err = execute(t, p, "", "--actor", "carol", "limit", "status", "--action", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Recent:    0/5")

	out, err = execute(t, p, "", "--actor", "carol", "limit", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	st, err = pol.Limiter(ratelimit.ActionScan, "carol").Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Count)

	_, err = execute(t, p, "", "limit", "status", "--action", "delete")
	assert.ErrorContains(t, err, "unknown action")
}

// newBackend serves the real scan API over its own store.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	store := kvstore.NewMemory()
	cfg := config.NewDefaultConfig().Server()
	srv := server.New(cfg, policy.New(store), store)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestScanCommand(t *testing.T) {
	backend := newBackend(t)
	p := newMemoryProvider()

	out, err := execute(t, p, "", "--actor", "dave", "scan", "Mail.Google.com", "--backend-url", backend.URL, "-o", "json")
	require.NoError(t, err)

	var res schemas.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "mail.google.com", res.Domain)
	assert.Equal(t, "google.com", res.RegistrableDomain)
	assert.True(t, res.Saved)
	assert.NotEmpty(t, res.ScanID)

	out, err = execute(t, p, "", "--actor", "dave", "scan", "google.com", "--backend-url", backend.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Domain:      google.com")
	assert.Contains(t, out, "Reputation:  85")
	assert.Contains(t, out, "Categories:")

	entries, err := policy.New(p.store).Audit().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "scan_requested", entries[0].Action)
	assert.Contains(t, entries[0].Details, "Scanned google.com")
}

func TestScanCommandRejectsLocally(t *testing.T) {
	p := newMemoryProvider()

	// The backend URL is never dialled for rejected input.
	_, err := execute(t, p, "", "scan", "localhost", "--backend-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(t, err))
	assert.Equal(t, validation.MsgNotAllowed, err.Error())

	pol := policy.New(p.store)
	for range ratelimit.DefaultMaxActions {
		_, err := pol.Limiter(ratelimit.ActionScan, "erin").Allow(context.Background())
		require.NoError(t, err)
	}
	_, err = execute(t, p, "", "--actor", "erin", "scan", "google.com", "--backend-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(t, err))
	assert.Contains(t, err.Error(), "Rate limit exceeded")
}

func TestScanCommandBackendDown(t *testing.T) {
	backend := newBackend(t)
	url := backend.URL
	backend.Close()

	_, err := execute(t, newMemoryProvider(), "", "scan", "google.com", "--backend-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect to backend")
}

func TestHealthCommand(t *testing.T) {
	backend := newBackend(t)

	out, err := execute(t, nil, "", "health", "--backend-url", backend.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "is healthy")

	out, err = execute(t, nil, "", "health", "--diagnose", "--backend-url", backend.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "OK    /health")

	down := backend.URL
	backend.Close()
	_, err = execute(t, nil, "", "health", "--backend-url", down)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
}

func TestReportCommands(t *testing.T) {
	p := newMemoryProvider()

	out, err := execute(t, p, "", "--actor", "frank", "report", "generate",
		"--title", "Phishing <b>wave</b>", "--severity", "high", "-o", "json")
	require.NoError(t, err)
	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "Phishing wave", r.Title)
	assert.Equal(t, report.SeverityHigh, r.Severity)

	_, err = execute(t, p, "", "report", "generate")
	require.Error(t, err)
	assert.Equal(t, report.MsgTitleRequired, err.Error())

	_, err = execute(t, p, "", "report", "generate", "--title", "x", "--severity", "critical")
	require.Error(t, err)
	assert.Equal(t, report.MsgInvalidSeverity, err.Error())

	out, err = execute(t, p, "", "report", "list", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Weekly Security Report")
	assert.Contains(t, out, "Total 3: 1 high, 1 medium, 1 low; 2 completed, 1 pending")

	out, err = execute(t, p, "", "report", "list", "--severity", "high", "-o", "json")
	require.NoError(t, err)
	var listed struct {
		Reports []report.Report `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Reports, 1)
	assert.Equal(t, "Incident Report #245", listed.Reports[0].Title)

	out, err = execute(t, p, "", "report", "list", "--search", "nothing-matches-this")
	require.NoError(t, err)
	assert.Contains(t, out, "No reports match.")

	_, err = execute(t, p, "", "report", "list", "--start", "2025-02-01", "--end", "2025-01-01")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(t, err))
}

func TestAuditCommands(t *testing.T) {
	p := newMemoryProvider()
	log := policy.New(p.store).Audit()
	for _, action := range []string{"one", "two", "three"} {
		_, err := log.Record(context.Background(), audit.Event{Action: action, Actor: "gina", Severity: audit.SeverityLow})
		require.NoError(t, err)
	}

	out, err := execute(t, p, "", "audit", "list", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "three")
	assert.Contains(t, out, "two")
	assert.NotContains(t, out, " one ")

	out, err = execute(t, p, "", "audit", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Audit log cleared.")

	out, err = execute(t, p, "", "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Audit log is empty.")
}

func TestStoreOpenFailure(t *testing.T) {
	_, err := execute(t, failingProvider{err: errors.New("disk on fire")}, "", "csrf", "token")
	assert.ErrorContains(t, err, "disk on fire")
}

func TestServeListenError(t *testing.T) {
	_, err := execute(t, newMemoryProvider(), "", "serve", "--addr", "not-an-address")
	assert.ErrorContains(t, err, "failed to listen")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "threatscope "+Version+" ("))

	out, err = execute(t, nil, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threatscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  show_errors: false\n"), 0o600))

	out, err := execute(t, nil, "", "--config", path, "validate", "localhost")
	require.Error(t, err)
	assert.Contains(t, out, validation.MsgOpaque)

	_, err = execute(t, nil, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
	assert.ErrorContains(t, err, "failed to initialize configuration")
}

func TestDefaultStoreProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStoreProvider()

	store, cleanup, err := p.Open(ctx, config.StoreConfig{Backend: config.BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &kvstore.Memory{}, store)
	cleanup()

	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, cleanup, err = p.Open(ctx, config.StoreConfig{Backend: config.BackendSQLite, Path: path}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, kvstore.Primary, "k", "v"))
	cleanup()
	assert.FileExists(t, path)

	_, _, err = p.Open(ctx, config.StoreConfig{Backend: "redis"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown store backend")
}
