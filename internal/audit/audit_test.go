package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
)

type brokenStore struct{ err error }

func (b brokenStore) Get(context.Context, kvstore.Namespace, string) (string, error) {
	return "", b.err
}
func (b brokenStore) Set(context.Context, kvstore.Namespace, string, string) error { return b.err }
func (b brokenStore) Delete(context.Context, kvstore.Namespace, string) error      { return b.err }
func (b brokenStore) Close() error                                                 { return nil }

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	log := New(kvstore.NewMemory(), WithClock(clk))

	first, err := log.Record(ctx, Event{Action: "scan", Actor: "cli", Details: "google.com", Severity: SeverityLow})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.Timestamp.Equal(clk.Now()))

	clk.Advance(time.Minute)
	_, err = log.Record(ctx, Event{Action: "report", Actor: "cli", Details: "weekly", Severity: SeverityInfo})
	require.NoError(t, err)

	entries, err := log.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "report", entries[0].Action, "newest first")
	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, SeverityLow, entries[1].Severity)
}

func TestRecordSanitizes(t *testing.T) {
	ctx := context.Background()
	log := New(kvstore.NewMemory())

	e, err := log.Record(ctx, Event{
		Action:    "<script>alert(1)</script>scan",
		Actor:     `"mallory"`,
		Details:   "<img src=x onerror=alert(1)>details",
		UserAgent: "curl/8.0 <b>",
		Severity:  "catastrophic",
	})
	require.NoError(t, err)
	assert.Equal(t, "scan", e.Action)
	assert.NotContains(t, e.Actor, `"`)
	assert.Equal(t, "details", e.Details)
	assert.Equal(t, "curl/8.0", e.UserAgent)
	assert.Equal(t, SeverityInfo, e.Severity, "unknown severities fall back to info")
}

func TestListResanitizesStoredEntries(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	raw := `[{"id":"1","action":"<b>edited</b>","user":"x","details":"<script>x</script>","severity":"high"}]`
	require.NoError(t, store.Set(ctx, kvstore.Primary, Key, raw))

	entries, err := New(store).List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "edited", entries[0].Action)
	assert.Empty(t, entries[0].Details)
	assert.Equal(t, SeverityHigh, entries[0].Severity)
}

func TestCaps(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	log := New(store)

	for i := 0; i < MaxEntries+20; i++ {
		_, err := log.Record(ctx, Event{Action: fmt.Sprintf("a%d", i), Actor: "cli"})
		require.NoError(t, err)
	}

	all, err := log.load(ctx)
	require.NoError(t, err)
	assert.Len(t, all, MaxEntries)
	assert.Equal(t, fmt.Sprintf("a%d", MaxEntries+19), all[0].Action)

	listed, err := log.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, listed, ListLimit)

	listed, err = log.List(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, listed, ListLimit)

	listed, err = log.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestCorruptLogIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(ctx, kvstore.Primary, Key, "not json"))
	log := New(store)

	entries, err := log.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = log.Record(ctx, Event{Action: "scan"})
	require.NoError(t, err)
	entries, err = log.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClearAndErrors(t *testing.T) {
	ctx := context.Background()
	log := New(kvstore.NewMemory())
	_, err := log.Record(ctx, Event{Action: "scan"})
	require.NoError(t, err)
	require.NoError(t, log.Clear(ctx))
	entries, err := log.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	boom := errors.New("offline")
	broken := New(brokenStore{boom})
	_, err = broken.Record(ctx, Event{Action: "scan"})
	assert.ErrorIs(t, err, boom)
	_, err = broken.List(ctx, 0)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, broken.Clear(ctx), boom)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, ParseSeverity("high"))
	assert.Equal(t, SeverityMedium, ParseSeverity("medium"))
	assert.Equal(t, SeverityInfo, ParseSeverity("HIGH"))
	assert.Equal(t, SeverityInfo, ParseSeverity(""))
}
