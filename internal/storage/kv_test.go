package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mixbook/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testKV runs the behaviour every backend must share.
func testKV(t *testing.T, open func(t *testing.T) storage.KV) {
	t.Run("get missing key", func(t *testing.T) {
		kv := open(t)
		_, err := kv.Get(context.Background(), "user_recipes")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		kv := open(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "favorite_recipes", []byte(`["mojito"]`)))
		got, err := kv.Get(ctx, "favorite_recipes")
		require.NoError(t, err)
		assert.JSONEq(t, `["mojito"]`, string(got))
	})

	t.Run("set overwrites", func(t *testing.T) {
		kv := open(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "favorite_recipes", []byte(`["mojito"]`)))
		require.NoError(t, kv.Set(ctx, "favorite_recipes", []byte(`["negroni"]`)))
		got, err := kv.Get(ctx, "favorite_recipes")
		require.NoError(t, err)
		assert.JSONEq(t, `["negroni"]`, string(got))
	})

	t.Run("delete", func(t *testing.T) {
		kv := open(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "user_recipes", []byte(`[]`)))
		require.NoError(t, kv.Delete(ctx, "user_recipes"))
		_, err := kv.Get(ctx, "user_recipes")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, kv.Delete(ctx, "user_recipes"), "deleting a missing key is not an error")
	})
}

func TestMemoryKV(t *testing.T) {
	t.Parallel()
	testKV(t, func(t *testing.T) storage.KV {
		return storage.NewMemoryKV()
	})
}

func TestFileKV(t *testing.T) {
	t.Parallel()
	testKV(t, func(t *testing.T) storage.KV {
		kv, err := storage.NewFileKV(t.TempDir())
		require.NoError(t, err)
		return kv
	})
}

func TestSQLiteKV(t *testing.T) {
	t.Parallel()
	testKV(t, func(t *testing.T) storage.KV {
		kv, err := storage.NewSQLiteKV(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { kv.Close() })
		return kv
	})
}

func TestSQLiteKV_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mixbook.db")
	ctx := context.Background()

	kv, err := storage.NewSQLiteKV(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "user_recipes", []byte(`[{"name":"Mojito"}]`)))
	require.NoError(t, kv.Close())

	reopened, err := storage.NewSQLiteKV(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "user_recipes")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Mojito"}]`, string(got))
}

func TestPostgresKV(t *testing.T) {
	dsn := os.Getenv("MIXBOOK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MIXBOOK_TEST_POSTGRES_DSN not set")
	}

	testKV(t, func(t *testing.T) storage.KV {
		kv, err := storage.NewPostgresKV(dsn)
		require.NoError(t, err)
		_, err = kv.DB().Exec("DELETE FROM kv_store")
		require.NoError(t, err)
		t.Cleanup(func() { kv.Close() })
		return kv
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	kv, err := storage.Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryKV{}, kv)

	kv, err = storage.Open("file", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &storage.FileKV{}, kv)

	_, err = storage.Open("redis", "")
	assert.Error(t, err)
}

// keyRecorder collects keys reported by a watcher.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) record(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *keyRecorder) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k == key {
			return true
		}
	}
	return false
}

func runWatch(t *testing.T, w storage.Watcher, rec *keyRecorder) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, rec.record) }()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestMemoryKV_Watch(t *testing.T) {
	t.Parallel()

	kv := storage.NewMemoryKV()
	rec := &keyRecorder{}
	stop := runWatch(t, kv, rec)
	defer stop()

	// The watcher registers asynchronously; keep writing until it is seen.
	assert.Eventually(t, func() bool {
		_ = kv.Set(context.Background(), "favorite_recipes", []byte(`[]`))
		return rec.has("favorite_recipes")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileKV_Watch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	kv, err := storage.NewFileKV(dir)
	require.NoError(t, err)

	rec := &keyRecorder{}
	stop := runWatch(t, kv, rec)
	defer stop()

	// A second handle stands in for another process writing the directory.
	other, err := storage.NewFileKV(dir)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_ = other.Set(context.Background(), "user_recipes", []byte(`[]`))
		return rec.has("user_recipes")
	}, 5*time.Second, 50*time.Millisecond)

	assert.False(t, rec.has(".user_recipes"), "temporary files are ignored")
}
