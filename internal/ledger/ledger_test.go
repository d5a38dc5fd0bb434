package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/aibridge/internal/invoke"
	"github.com/mattjoyce/aibridge/internal/storage"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func record(id, label string, status invoke.Status, started time.Time) invoke.Record {
	return invoke.Record{
		ID:           id,
		Label:        label,
		Mode:         invoke.ModeInline,
		ScriptDigest: invoke.ScriptDigest("print(1)"),
		Status:       status,
		StartedAt:    started,
		CompletedAt:  started.Add(1500 * time.Millisecond),
	}
}

func TestLedger_RecordAndGet(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rec := record("inv-1", "chatbot", invoke.StatusFailed, started)
	rec.ExitCode = 2
	rec.Error = "process exited with code 2: boom"
	rec.Stderr = "boom\n"
	require.NoError(t, l.Record(ctx, rec))

	got, err := l.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "chatbot", got.Label)
	assert.Equal(t, invoke.ModeInline, got.Mode)
	assert.Equal(t, invoke.StatusFailed, got.Status)
	assert.Equal(t, 2, got.ExitCode)
	assert.Equal(t, int64(1500), got.DurationMS)
	assert.Equal(t, rec.Error, got.Error)
	assert.Equal(t, "boom\n", got.Stderr)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, rec.ScriptDigest, got.ScriptDigest)
}

func TestLedger_GetNotFound(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_RecordRequiresID(t *testing.T) {
	l := openTestLedger(t)

	err := l.Record(context.Background(), invoke.Record{})
	assert.Error(t, err)
}

func TestLedger_ListFiltersAndOrders(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, record("a", "chatbot", invoke.StatusSucceeded, base)))
	require.NoError(t, l.Record(ctx, record("b", "analysis", invoke.StatusFailed, base.Add(time.Minute))))
	require.NoError(t, l.Record(ctx, record("c", "chatbot", invoke.StatusTimedOut, base.Add(2*time.Minute))))

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	chatbot, err := l.List(ctx, Filter{Label: "chatbot"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(chatbot))

	timedOut, err := l.List(ctx, Filter{Status: invoke.StatusTimedOut})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(timedOut))

	limited, err := l.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(limited))
}

func TestLedger_Prune(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, record("old", "chatbot", invoke.StatusSucceeded, base)))
	require.NoError(t, l.Record(ctx, record("new", "chatbot", invoke.StatusSucceeded, base.Add(48*time.Hour))))

	n, err := l.Prune(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestLedger_SubSecondOrdering(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	later := record("later", "chatbot", invoke.StatusSucceeded, base.Add(100*time.Millisecond))
	later.CompletedAt = later.StartedAt
	onSecond := record("on-second", "chatbot", invoke.StatusSucceeded, base)
	onSecond.CompletedAt = base

	// Insert the later one first so rowid order cannot hide a text-ordering bug.
	require.NoError(t, l.Record(ctx, later))
	require.NoError(t, l.Record(ctx, onSecond))

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"later", "on-second"}, ids(all))

	n, err := l.Prune(ctx, base.Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Get(ctx, "on-second")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := l.Get(ctx, "later")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(base.Add(100*time.Millisecond)), "started_at = %v", got.StartedAt)
}

func TestLedger_AsInvokerRecorder(t *testing.T) {
	l := openTestLedger(t)

	iv, err := invoke.New(invoke.Config{Interpreter: []string{"sh"}}, invoke.WithRecorder(l))
	require.NoError(t, err)

	res, err := iv.Invoke(context.Background(), invoke.Request{Script: `echo '{"ok":true}'`, Label: "classification"})
	require.NoError(t, err)

	got, err := l.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "classification", got.Label)
	assert.Equal(t, invoke.StatusSucceeded, got.Status)
	assert.Equal(t, res.ScriptDigest, got.ScriptDigest)
}

func ids(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
