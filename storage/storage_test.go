package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/openbao/openbao/sdk/v2/logical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "key-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "key-1", []byte(`{"id":"1"}`)))

		value, err := store.Get(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"1"}`), value)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "keyIndex", []byte(`["a"]`)))
		require.NoError(t, store.Put(ctx, "keyIndex", []byte(`["a","b"]`)))

		value, err := store.Get(ctx, "keyIndex")
		require.NoError(t, err)
		assert.Equal(t, []byte(`["a","b"]`), value)
	})

	t.Run("stored value is not aliased", func(t *testing.T) {
		value := []byte("original")
		require.NoError(t, store.Put(ctx, "key-alias", value))
		value[0] = 'X'

		got, err := store.Get(ctx, "key-alias")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), got)
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		assert.ErrorIs(t, store.Put(ctx, "", []byte("x")), ErrInvalidKey)
		assert.ErrorIs(t, store.Put(ctx, "../escape", []byte("x")), ErrInvalidKey)
		assert.ErrorIs(t, store.Put(ctx, "a/b", []byte("x")), ErrInvalidKey)
	})

	t.Run("concurrent puts", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("key-concurrent-%d", i)
				assert.NoError(t, store.Put(ctx, key, []byte(key)))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 16; i++ {
			key := fmt.Sprintf("key-concurrent-%d", i)
			value, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte(key), value)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreContract(t, store)

	assert.Equal(t, "memory", store.Type())
	assert.Contains(t, store.Keys(), "key-1")
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put(context.Background(), "key-1", nil), ErrClosed)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "key-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, "key-1", nil), context.Canceled)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, err)
	runStoreContract(t, store)
	assert.Equal(t, "file", store.Type())
}

func TestFileStore_CreatesDirectoryWithRestrictedPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "vault")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestFileStore_FilePermissionsAndNoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "key-abc", []byte("secret")))

	info, err := os.Stat(filepath.Join(dir, "key-abc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(dir, "key-abc.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "keyIndex", []byte(`["x"]`)))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	value, err := reopened.Get(context.Background(), "keyIndex")
	require.NoError(t, err)
	assert.Equal(t, []byte(`["x"]`), value)
}

func TestFileStore_Closed(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Get(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerStore_InMemory(t *testing.T) {
	store, err := NewBadgerStore("")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	runStoreContract(t, store)
	assert.Equal(t, "badger", store.Type())
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "keyIndex", []byte(`["y"]`)))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	value, err := reopened.Get(context.Background(), "keyIndex")
	require.NoError(t, err)
	assert.Equal(t, []byte(`["y"]`), value)
}

func TestBaoStore(t *testing.T) {
	inmem := &logical.InmemStorage{}
	store, err := NewBaoStore(inmem, "vault")
	require.NoError(t, err)

	runStoreContract(t, store)
	assert.Equal(t, "openbao", store.Type())

	t.Run("entries are namespaced and seal wrapped", func(t *testing.T) {
		entry, err := inmem.Get(context.Background(), "vault/key-1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, entry.SealWrap)

		keys, err := store.List(context.Background())
		require.NoError(t, err)
		assert.Contains(t, keys, "key-1")
	})
}

func TestNewBaoStore_RejectsNil(t *testing.T) {
	_, err := NewBaoStore(nil, "")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TELLER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TELLER_TEST_REDIS_ADDR not set")
	}

	store, err := NewRedisStore(context.Background(), RedisOptions{
		Addr:   addr,
		Prefix: fmt.Sprintf("teller-test-%s:", t.Name()),
	})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	runStoreContract(t, store)
	assert.Equal(t, "redis", store.Type())
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      Config
		wantType string
		wantErr  bool
	}{
		{name: "default is memory", cfg: Config{}, wantType: "memory"},
		{name: "memory", cfg: Config{Type: TypeMemory}, wantType: "memory"},
		{name: "file", cfg: Config{Type: TypeFile, Path: t.TempDir()}, wantType: "file"},
		{name: "file without path", cfg: Config{Type: TypeFile}, wantErr: true},
		{name: "badger in memory", cfg: Config{Type: TypeBadger}, wantType: "badger"},
		{name: "redis without address", cfg: Config{Type: TypeRedis}, wantErr: true},
		{name: "openbao kv without address", cfg: Config{Type: TypeBaoKV}, wantErr: true},
		{name: "unknown", cfg: Config{Type: "etcd"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = store.Close() }()
			assert.Equal(t, tt.wantType, store.Type())
		})
	}
}
