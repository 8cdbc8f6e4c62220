package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/openbao/openbao/sdk/v2/logical"
)

// TypeBao is the backend name of a BaoStore. It is not reachable through
// NewStore because the logical storage is handed out by the OpenBao plugin
// framework per request.
const TypeBao Type = "openbao"

// BaoStore adapts OpenBao logical storage (the storage view a secrets engine
// receives) to Store. Entries are written seal-wrapped.
type BaoStore struct {
	storage logical.Storage
	prefix  string
}

// NewBaoStore wraps s. prefix namespaces keys inside the mount, e.g. "vault/".
func NewBaoStore(s logical.Storage, prefix string) (*BaoStore, error) {
	if s == nil {
		return nil, fmt.Errorf("logical storage cannot be nil")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BaoStore{storage: s, prefix: prefix}, nil
}

// Get retrieves a value by key.
func (b *BaoStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.storage.Get(ctx, b.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("bao get %s: %w", key, err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// Put stores a value.
func (b *BaoStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	entry := &logical.StorageEntry{
		Key:      b.prefix + key,
		Value:    copyBytes(value),
		SealWrap: true,
	}
	if err := b.storage.Put(ctx, entry); err != nil {
		return fmt.Errorf("bao put %s: %w", key, err)
	}
	return nil
}

// List returns the keys stored under the prefix.
func (b *BaoStore) List(ctx context.Context) ([]string, error) {
	return b.storage.List(ctx, b.prefix)
}

// Close is a no-op; the plugin framework owns the underlying storage.
func (b *BaoStore) Close() error {
	return nil
}

// Type returns the backend type.
func (b *BaoStore) Type() string {
	return string(TypeBao)
}
