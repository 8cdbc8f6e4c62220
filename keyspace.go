package teller

import (
	"context"
	"errors"
	"fmt"

	"github.com/genecyber/ether-teller/storage"
)

// Storage keys
const (
	keyStoragePrefix = "key-"
	keyIndexKey      = "keyIndex"
)

// keyspace maps records and the index onto storage keys.
type keyspace struct {
	store storage.Store
}

func recordKey(id string) string {
	return keyStoragePrefix + id
}

func (k keyspace) getRecord(ctx context.Context, id string) (*KeyRecord, error) {
	data, err := k.store.Get(ctx, recordKey(id))
	if errors.Is(err, storage.ErrInvalidKey) {
		// No record can exist under an id the backends refuse to store.
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, storageError(err)
	}
	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if record.ID != id {
		return nil, fmt.Errorf("%w: record stored under %q has id %q", ErrDecode, id, record.ID)
	}
	return record, nil
}

func (k keyspace) putRecord(ctx context.Context, r *KeyRecord) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return storageError(k.store.Put(ctx, recordKey(r.ID), data))
}

func (k keyspace) getIndex(ctx context.Context) ([]string, error) {
	data, err := k.store.Get(ctx, keyIndexKey)
	if err != nil {
		return nil, storageError(err)
	}
	return decodeIndex(data)
}

func (k keyspace) putIndex(ctx context.Context, ids []string) error {
	data, err := encodeIndex(ids)
	if err != nil {
		return err
	}
	return storageError(k.store.Put(ctx, keyIndexKey, data))
}
