package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is a minimal KV v2 engine mounted at /v1/secret.
type fakeKV struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	token   string
	sealed  bool
	headers http.Header
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]json.RawMessage), token: "test-token"}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/sys/health" {
		if f.sealed {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	f.headers = r.Header.Clone()
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {"permission denied"}})
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/v1/secret/data/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, ok := f.data[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     value,
				"metadata": map[string]interface{}{"version": 1},
			},
		})
	case http.MethodPost:
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.data[key] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]int{"version": 1}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupBaoKVStore(t *testing.T, kv *fakeKV, prefix string) *BaoKVStore {
	t.Helper()

	server := httptest.NewTLSServer(kv)
	t.Cleanup(server.Close)

	store, err := NewBaoKVStore(context.Background(), BaoKVOptions{
		Addr:          server.URL,
		Token:         "test-token",
		Namespace:     "team-a",
		Prefix:        prefix,
		SkipTLSVerify: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBaoKVStore_Contract(t *testing.T) {
	store := setupBaoKVStore(t, newFakeKV(), "")
	assert.Equal(t, "openbao_kv", store.Type())
	runStoreContract(t, store)
}

func TestBaoKVStore_PrefixAndHeaders(t *testing.T) {
	kv := newFakeKV()
	store := setupBaoKVStore(t, kv, "teller-")

	require.NoError(t, store.Put(context.Background(), "keyIndex", []byte(`["a"]`)))

	kv.mu.Lock()
	defer kv.mu.Unlock()
	raw, ok := kv.data["teller-keyIndex"]
	require.True(t, ok)
	assert.JSONEq(t, `{"value":"WyJhIl0="}`, string(raw))
	assert.Equal(t, "team-a", kv.headers.Get("X-Vault-Namespace"))
}

func TestBaoKVStore_SoftDeletedIsNotFound(t *testing.T) {
	kv := newFakeKV()
	store := setupBaoKVStore(t, kv, "")

	kv.mu.Lock()
	kv.data["gone"] = json.RawMessage("null")
	kv.mu.Unlock()

	_, err := store.Get(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBaoKVStore_AuthFailure(t *testing.T) {
	kv := newFakeKV()
	store := setupBaoKVStore(t, kv, "")

	kv.mu.Lock()
	kv.token = "rotated"
	kv.mu.Unlock()

	err := store.Put(context.Background(), "key-1", []byte("x"))
	assert.ErrorIs(t, err, ErrBaoAuth)

	var baoErr *BaoError
	require.ErrorAs(t, err, &baoErr)
	assert.Equal(t, http.StatusForbidden, baoErr.StatusCode)
	assert.Equal(t, "OpenBao error (HTTP 403): permission denied", baoErr.Error())
}

func TestNewBaoKVStore_Sealed(t *testing.T) {
	kv := newFakeKV()
	kv.sealed = true
	server := httptest.NewServer(kv)
	defer server.Close()

	_, err := NewBaoKVStore(context.Background(), BaoKVOptions{Addr: server.URL, Token: "test-token"})
	assert.ErrorIs(t, err, ErrBaoSealed)
}

func TestNewBaoKVStore_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := NewBaoKVStore(context.Background(), BaoKVOptions{Addr: addr})
	assert.ErrorIs(t, err, ErrBaoConnection)

	_, err = NewBaoKVStore(context.Background(), BaoKVOptions{})
	assert.Error(t, err)
}

func TestBaoError_Is(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
		want   bool
	}{
		{name: "403 is auth", status: 403, target: ErrBaoAuth, want: true},
		{name: "404 is not found", status: 404, target: ErrNotFound, want: true},
		{name: "503 is sealed", status: 503, target: ErrBaoSealed, want: true},
		{name: "500 is nothing", status: 500, target: ErrNotFound, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &BaoError{StatusCode: tt.status}
			assert.Equal(t, tt.want, err.Is(tt.target))
		})
	}
}
