package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

func batch(id string, created time.Time) *ports.Batch {
	return &ports.Batch{
		ID:        id,
		CreatedAt: created,
		Puzzles: []ports.PendingGroup{{Groups: []domain.Group{
			{Color: "bg-green-200", Emoji: "🟩", Theme: "Centers", Words: []string{"SHAQ", "DUNCAN", "EWING", "YAO"}},
		}}},
	}
}

func TestFSSaveLoadMove(t *testing.T) {
	ctx := context.Background()
	fs := NewFS(t.TempDir())
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, fs.Save(ctx, batch("b1", created)))
	b, st, err := fs.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, ports.BatchPending, st)
	assert.Equal(t, batch("b1", created), b)

	require.NoError(t, fs.Move(ctx, "b1", ports.BatchVerified))
	_, st, err = fs.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, ports.BatchVerified, st)
	require.NoError(t, fs.Move(ctx, "b1", ports.BatchVerified), "moving in place is a no-op")

	pending, err := fs.List(ctx, ports.BatchPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFSListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	fs := NewFS(t.TempDir())
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Save(ctx, batch("late", base.Add(time.Hour))))
	require.NoError(t, fs.Save(ctx, batch("early", base)))

	list, err := fs.List(ctx, ports.BatchPending)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)
	assert.Equal(t, 1, list[0].Puzzles)
}

func TestFSLoadsBareArray(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pending"), 0o755))
	legacy := `[{"groups":[{"color":"bg-blue-200","emoji":"🟦","theme":"Cities","words":["A","B","C","D"]}]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pending", "old.json"), []byte(legacy), 0o644))

	b, st, err := fs.Load(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, ports.BatchPending, st)
	assert.Equal(t, "old", b.ID)
	require.Len(t, b.Puzzles, 1)
	assert.Equal(t, "Cities", b.Puzzles[0].Groups[0].Theme)
}

func TestFSRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	fs := NewFS(t.TempDir())
	assert.Error(t, fs.Save(ctx, batch("../escape", time.Now())))
	assert.Error(t, fs.Save(ctx, &ports.Batch{}))
	_, _, err := fs.Load(ctx, "a/b")
	assert.Error(t, err)
	_, _, err = fs.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFSSaveRewritesInPlace(t *testing.T) {
	ctx := context.Background()
	fs := NewFS(t.TempDir())
	b := batch("b1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, fs.Save(ctx, b))
	require.NoError(t, fs.Move(ctx, "b1", ports.BatchPartial))

	b.Puzzles[0].Ordinal = 7
	require.NoError(t, fs.Save(ctx, b))

	got, st, err := fs.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, ports.BatchPartial, st)
	assert.Equal(t, 7, got.Puzzles[0].Ordinal)
	pending, err := fs.List(ctx, ports.BatchPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
