// Package migration copies identities from one vault to another, typically to
// move keys between storage backends.
package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	teller "github.com/genecyber/ether-teller"
	"github.com/genecyber/ether-teller/secp256k1"
)

// verificationDigest is signed by the destination identity and checked
// against the source public key.
var verificationDigest = secp256k1.Keccak256([]byte("teller-migration-verification"))

// ErrAddressMismatch is returned when the destination derived a different
// address than the source record carries.
var ErrAddressMismatch = errors.New("migration: destination address does not match source")

// Config describes a batch migration.
type Config struct {
	Source *teller.Vault
	Dest   *teller.Vault

	// IDs selects source identities. Empty means every indexed identity.
	IDs []string

	// VerifyAfterImport signs a test digest with the destination identity and
	// checks it against the source public key.
	VerifyAfterImport bool
}

// Result describes one migrated identity. The destination assigns its own id.
type Result struct {
	SourceID string `json:"sourceId" yaml:"sourceId"`
	DestID   string `json:"destId" yaml:"destId"`
	Label    string `json:"label" yaml:"label"`
	Address  string `json:"address" yaml:"address"`
	Verified bool   `json:"verified" yaml:"verified"`
}

// ItemError records a failed identity.
type ItemError struct {
	SourceID string
	Err      error
}

// Error implements the error interface.
func (e ItemError) Error() string {
	return fmt.Sprintf("migrate %s: %v", e.SourceID, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchResult collects the outcome of a batch migration.
type BatchResult struct {
	Successful []Result
	Failed     []ItemError
}

// Copy migrates a single identity from src to dst.
func Copy(ctx context.Context, src, dst *teller.Vault, id string, verify bool) (*Result, error) {
	if src == nil {
		return nil, errors.New("source vault is required")
	}
	if dst == nil {
		return nil, errors.New("destination vault is required")
	}
	if id == "" {
		return nil, errors.New("identity id is required")
	}

	record, err := src.ExportIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to export identity from source: %w", err)
	}
	defer secp256k1.SecureZero(record.PrivateKey)

	ident, err := dst.ImportIdentity(ctx, record.Label, record.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import identity to destination: %w", err)
	}
	if !bytes.Equal(ident.AddressBytes(), record.Address) {
		return nil, fmt.Errorf("%w: %s", ErrAddressMismatch, ident.Address())
	}

	result := &Result{
		SourceID: id,
		DestID:   ident.ID(),
		Label:    ident.Label(),
		Address:  ident.Address(),
	}

	if verify {
		result.Verified = verifyImported(ctx, ident, record.PublicKey)
	}
	return result, nil
}

// BatchCopy migrates the identities selected by cfg. Individual failures are
// collected; only invalid configuration or failure to enumerate the source
// returns an error.
func BatchCopy(ctx context.Context, cfg Config) (*BatchResult, error) {
	if cfg.Source == nil {
		return nil, errors.New("source vault is required")
	}
	if cfg.Dest == nil {
		return nil, errors.New("destination vault is required")
	}

	ids := cfg.IDs
	if len(ids) == 0 {
		var err error
		ids, err = cfg.Source.IDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list source identities: %w", err)
		}
	}

	// Check for context cancellation before starting
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result := &BatchResult{
		Successful: make([]Result, 0, len(ids)),
		Failed:     make([]ItemError, 0),
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			result.Failed = append(result.Failed, ItemError{SourceID: id, Err: ctx.Err()})
			return result, nil
		default:
		}

		res, err := Copy(ctx, cfg.Source, cfg.Dest, id, cfg.VerifyAfterImport)
		if err != nil {
			result.Failed = append(result.Failed, ItemError{SourceID: id, Err: err})
			continue
		}
		result.Successful = append(result.Successful, *res)
	}

	return result, nil
}

func verifyImported(ctx context.Context, ident *teller.Identity, sourcePublicKey []byte) bool {
	sig, err := ident.SignDigest(ctx, verificationDigest)
	if err != nil {
		return false
	}
	ok, err := secp256k1.VerifyDigest(sourcePublicKey, verificationDigest, sig)
	return err == nil && ok
}
