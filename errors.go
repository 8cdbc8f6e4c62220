package teller

import (
	"errors"
	"fmt"

	"github.com/genecyber/ether-teller/storage"
)

// Sentinel errors - Configuration
var (
	ErrMissingStore = errors.New("teller: store is required")
	ErrClosed       = errors.New("teller: vault is closed")
)

// Sentinel errors - Operations
var (
	ErrNotFound    = errors.New("teller: key not found")
	ErrDecode      = errors.New("teller: malformed key data")
	ErrStorage     = errors.New("teller: storage failure")
	ErrCrypto      = errors.New("teller: crypto failure")
	ErrValidation  = errors.New("teller: invalid input")
	ErrDuplicateID = errors.New("teller: duplicate key id")
	ErrStaleIndex  = errors.New("teller: stale key index snapshot written")
)

// KeyError wraps an error with key context.
type KeyError struct {
	KeyID string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s key %q: %v", e.Op, e.KeyID, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// WrapKeyError wraps an error with key operation context.
// Returns nil if the provided error is nil.
func WrapKeyError(op, keyID string, err error) error {
	if err == nil {
		return nil
	}
	return &KeyError{
		KeyID: keyID,
		Op:    op,
		Err:   err,
	}
}

// IndexPersistError describes a failed or out-of-order key index write. It is
// delivered on Vault.Diagnostics, never returned to the importing caller.
type IndexPersistError struct {
	Seq   uint64 // snapshot sequence, increasing with every append
	Count int    // number of ids in the snapshot
	Err   error
}

// Error implements the error interface.
func (e *IndexPersistError) Error() string {
	return fmt.Sprintf("persist key index (seq %d, %d ids): %v", e.Seq, e.Count, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *IndexPersistError) Unwrap() error {
	return e.Err
}

// ValidationError represents malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// storageError classifies an error returned by the store. A missing value
// becomes ErrNotFound; anything else is ErrStorage. The original error stays
// in the chain so context errors remain detectable.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
