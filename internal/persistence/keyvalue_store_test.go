package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyValueStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewKeyValueStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Set("b", "2"))
	require.NoError(t, kv.Remove("a"))

	reloaded, err := NewKeyValueStore(dir, zap.NewNop())
	require.NoError(t, err)

	_, ok := reloaded.Get("a")
	assert.False(t, ok)
	v, ok := reloaded.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, err = os.Stat(filepath.Join(dir, "fallback-store.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestKeyValueStore_CorruptFileLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fallback-store.json"), []byte("]]"), 0644))

	kv, err := NewKeyValueStore(dir, zap.NewNop())
	require.NoError(t, err)

	_, ok := kv.Get(ProgressKey)
	assert.False(t, ok)
	require.NoError(t, kv.Set(ProgressKey, "{}"))
}

func TestKeyValueStore_CorruptBlobsAreIgnored(t *testing.T) {
	kv, err := NewKeyValueStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, kv.Set(NotesKey, "nope"))
	require.NoError(t, kv.Set(WorkshopDataKey, "nope"))

	_, ok, err := kv.GetNote(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// A write over a corrupt blob starts a fresh one.
	require.NoError(t, kv.PutNote(ctx, 1, "fresh"))
	text, ok, err := kv.GetNote(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh", text)

	_, ok, err = kv.GetWorkshopData(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyValueStore_NotesBlobLayout(t *testing.T) {
	kv, err := NewKeyValueStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, kv.PutNote(ctx, 1, "one"))
	require.NoError(t, kv.PutNote(ctx, 7, "seven"))

	raw, ok := kv.Get(NotesKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"1":"one","7":"seven"}`, raw)
}

func TestKeyValueStore_ClearRemovesOnlyKnownKeys(t *testing.T) {
	kv, err := NewKeyValueStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, kv.Set("unrelated", "keep"))
	require.NoError(t, kv.PutNote(ctx, 1, "x"))
	require.NoError(t, kv.Clear(ctx))

	_, ok := kv.Get(NotesKey)
	assert.False(t, ok)
	v, ok := kv.Get("unrelated")
	assert.True(t, ok)
	assert.Equal(t, "keep", v)
}
