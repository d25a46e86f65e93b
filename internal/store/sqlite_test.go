package store

import (
	"context"
	"testing"

	"taskcron/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_GetSet(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, found, err := db.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.Set(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, db.Set(ctx, "k", []byte(`{"a":2}`)))
	raw, found, err := db.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"a":2}`, string(raw))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, dir)
	require.NoError(t, err)
	created, err := newTestStores(db).tasks.Create(ctx, core.TaskInput{Name: "nightly", Type: core.ScheduleDaily, DailyTime: "02:00", Command: "echo hi"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, dir)
	require.NoError(t, err, "migrations are idempotent")
	defer db.Close()

	got, err := newTestStores(db).tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, "02:00", got.DailyTime)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLite_InMemory(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := newTestStores(db)
	_, err = s.history.Append(ctx, &core.HistoryEntry{TaskID: "t", Status: core.HistoryFailure, ExitCode: -1})
	require.NoError(t, err)
	entries, err := s.history.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -1, entries[0].ExitCode)
}
