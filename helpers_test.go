package teller

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genecyber/ether-teller/storage"
)

const (
	testPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddressHex    = "2c7536e3605d9c16a7a3d7b1898e529396a65c23"
)

var errInjected = errors.New("injected store failure")

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(testPrivateKeyHex)
	require.NoError(t, err)
	return b
}

// sequentialIDs returns an id generator yielding id-1, id-2, ... and a
// counter of how many ids were drawn.
func sequentialIDs() (func() string, *atomic.Int64) {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}, &n
}

// newTestVault returns a ready vault over an in-memory store.
func newTestVault(t *testing.T, cfg Config) (*Vault, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	v, err := New(context.Background(), store, cfg)
	require.NoError(t, err)
	waitReady(t, v)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = v.Close(ctx)
	})
	return v, store
}

func waitReady(t *testing.T, v *Vault) {
	t.Helper()
	select {
	case <-v.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("vault did not become ready")
	}
}

// recordingStore wraps a store, counting calls and optionally holding or
// failing operations on the key index.
type recordingStore struct {
	storage.Store

	mu    sync.Mutex
	calls []string

	// holdIndexGet, when set, blocks Get("keyIndex") until it is closed.
	holdIndexGet chan struct{}
	// indexGetErr, when set, is returned by Get("keyIndex").
	indexGetErr error
	// failIndexPut makes every Put("keyIndex") fail.
	failIndexPut bool
	// failRecordPut makes every record Put fail.
	failRecordPut bool
	// indexPutDelay delays Put("keyIndex") by the returned duration for the
	// n-th call (1-based).
	indexPutDelay func(n int) time.Duration
	indexPuts     atomic.Int64
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: storage.NewMemoryStore()}
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// Calls returns the calls seen so far.
func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.record("get " + key)
	if key == keyIndexKey {
		if s.holdIndexGet != nil {
			select {
			case <-s.holdIndexGet:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.indexGetErr != nil {
			return nil, s.indexGetErr
		}
	}
	return s.Store.Get(ctx, key)
}

func (s *recordingStore) Put(ctx context.Context, key string, value []byte) error {
	s.record("put " + key)
	if key == keyIndexKey {
		n := int(s.indexPuts.Add(1))
		if s.indexPutDelay != nil {
			time.Sleep(s.indexPutDelay(n))
		}
		if s.failIndexPut {
			return errInjected
		}
	} else if s.failRecordPut {
		return errInjected
	}
	return s.Store.Put(ctx, key, value)
}
