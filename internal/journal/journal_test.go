package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func strPtr(s string) *string { return &s }

func TestRecordAndList(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		CallID: "a", Capability: "fs", Operation: "readDir", Status: StatusCompleted,
		CreatedAt: base, CompletedAt: base.Add(5 * time.Millisecond), Duration: 5 * time.Millisecond,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		CallID: "b", Capability: "window", Operation: "setTitle", Window: strPtr("main"), Status: StatusFailed,
		ErrorKind: strPtr("WindowError"), Error: strPtr("closed"),
		CreatedAt: base, CompletedAt: base.Add(time.Second),
	}))

	all, err := j.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].CallID, "newest first")
	require.NotNil(t, all[0].ErrorKind)
	assert.Equal(t, "WindowError", *all[0].ErrorKind)
	assert.Equal(t, "main", *all[0].Window)
	assert.Nil(t, all[1].Window)
	assert.Equal(t, 5*time.Millisecond, all[1].Duration)
	assert.True(t, all[1].CreatedAt.Equal(base))

	failed, err := j.List(ctx, ListOptions{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	fsOnly, err := j.List(ctx, ListOptions{Capability: "fs", Limit: 10})
	require.NoError(t, err)
	require.Len(t, fsOnly, 1)
	assert.Equal(t, "a", fsOnly[0].CallID)

	limited, err := j.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordValidation(t *testing.T) {
	j := openJournal(t)
	assert.Error(t, j.Record(context.Background(), Entry{Status: StatusCompleted}))
	assert.Error(t, j.Record(context.Background(), Entry{CallID: "x", Status: "running"}))
}

func TestPrune(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{CallID: "old", Capability: "fs", Operation: "x", Status: StatusCompleted, CreatedAt: old, CompletedAt: old}))
	require.NoError(t, j.Record(ctx, Entry{CallID: "new", Capability: "fs", Operation: "x", Status: StatusCancelled, CreatedAt: recent, CompletedAt: recent}))

	n, err := j.Prune(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].CallID)
}
