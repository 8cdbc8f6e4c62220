package teller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genecyber/ether-teller/storage"
)

func TestKeyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *KeyError
		expected string
	}{
		{
			name:     "with key id",
			err:      &KeyError{KeyID: "abc", Op: "export", Err: ErrNotFound},
			expected: `export key "abc": teller: key not found`,
		},
		{
			name:     "without key id",
			err:      &KeyError{Op: "generate", Err: ErrCrypto},
			expected: "generate: teller: crypto failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestKeyError_Unwrap(t *testing.T) {
	err := WrapKeyError("sign_tx", "k1", ErrStorage)
	assert.True(t, errors.Is(err, ErrStorage))

	var keyErr *KeyError
	require.True(t, errors.As(err, &keyErr))
	assert.Equal(t, "k1", keyErr.KeyID)
	assert.Equal(t, "sign_tx", keyErr.Op)
}

func TestWrapKeyError_Nil(t *testing.T) {
	assert.NoError(t, WrapKeyError("export", "k1", nil))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("privateKey", "must be 32 bytes, got 3")

	assert.Equal(t, "validation error: privateKey - must be 32 bytes, got 3", err.Error())
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrCrypto))

	wrapped := WrapKeyError("import", "", err)
	assert.True(t, errors.Is(wrapped, ErrValidation))

	var valErr *ValidationError
	require.True(t, errors.As(wrapped, &valErr))
	assert.Equal(t, "privateKey", valErr.Field)
}

func TestIndexPersistError(t *testing.T) {
	err := &IndexPersistError{Seq: 3, Count: 2, Err: ErrStaleIndex}

	assert.Equal(t, "persist key index (seq 3, 2 ids): teller: stale key index snapshot written", err.Error())
	assert.True(t, errors.Is(err, ErrStaleIndex))
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name    string
		in      error
		want    error
		notWant error
	}{
		{name: "not found", in: storage.ErrNotFound, want: ErrNotFound, notWant: ErrStorage},
		{name: "closed", in: storage.ErrClosed, want: ErrStorage, notWant: ErrNotFound},
		{name: "context", in: context.Canceled, want: context.Canceled, notWant: ErrNotFound},
		{name: "arbitrary", in: errors.New("disk full"), want: ErrStorage, notWant: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storageError(tt.in)
			assert.True(t, errors.Is(err, tt.want))
			assert.True(t, errors.Is(err, tt.in))
			assert.False(t, errors.Is(err, tt.notWant))
		})
	}

	assert.NoError(t, storageError(nil))
}
