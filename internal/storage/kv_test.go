package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	file, err := Open(ctx, BackendFile, filepath.Join(dir, "store.json"))
	require.NoError(t, err)
	db, err := Open(ctx, BackendSQLite, filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		file.Close()
		db.Close()
	})
	return map[string]KV{"file": file, "sqlite": db}
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set(ctx, "list", []byte(`[{"id":"a"}]`)))
			require.NoError(t, kv.Set(ctx, "plain", []byte("not json")))

			v, ok, err := kv.Get(ctx, "list")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `[{"id":"a"}]`, string(v))

			v, _, err = kv.Get(ctx, "plain")
			require.NoError(t, err)
			assert.Equal(t, "not json", string(v))

			require.NoError(t, kv.Set(ctx, "list", []byte(`[]`)))
			v, _, _ = kv.Get(ctx, "list")
			assert.Equal(t, "[]", string(v))

			require.NoError(t, kv.Delete(ctx, "list"))
			require.NoError(t, kv.Delete(ctx, "list"))
			_, ok, _ = kv.Get(ctx, "list")
			assert.False(t, ok)
		})
	}
}

func TestFileKVPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	kv, err := NewFileKV(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", []byte(`{"n":1}`)))
	require.NoError(t, kv.Close())

	_, _, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewFileKV(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(v))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileKVCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	_, err := NewFileKV(path)
	assert.Error(t, err)
}

func TestSQLiteKVPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	kv, err := NewSQLiteKV(ctx, path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	require.NoError(t, kv.Close())

	kv, err = NewSQLiteKV(ctx, path)
	require.NoError(t, err)
	defer kv.Close()
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "redis", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
