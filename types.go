// Package teller provides an identity vault for Ethereum-style accounts:
// secp256k1 key pairs are generated or imported, persisted through a
// pluggable key-value store, and used for signing without handing the raw
// private key to callers.
package teller

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults
const (
	DefaultDiagnosticsBuffer = 64
	DefaultConcurrency       = 8
)

// Source constants
const (
	SourceGenerated = "generated"
	SourceImported  = "imported"
)

// Config holds configuration for Vault initialization.
type Config struct {
	Logger            *slog.Logger          // Optional: defaults to a discarding logger
	Registerer        prometheus.Registerer // Optional: defaults to a private registry
	IDGenerator       func() string         // Optional: defaults to uuid.NewString
	DiagnosticsBuffer int                   // Capacity of the Diagnostics channel
	Concurrency       int                   // Parallel record loads in ExportAll/LookupAll
}

// WithDefaults returns Config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	if c.IDGenerator == nil {
		c.IDGenerator = uuid.NewString
	}
	if c.DiagnosticsBuffer == 0 {
		c.DiagnosticsBuffer = DefaultDiagnosticsBuffer
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.DiagnosticsBuffer < 0 {
		return NewValidationError("DiagnosticsBuffer", "must not be negative")
	}
	if c.Concurrency < 0 {
		return NewValidationError("Concurrency", "must not be negative")
	}
	return nil
}

// KeyRecord is the full representation of one identity, including the raw
// private key. It is only handed out by the export operations.
type KeyRecord struct {
	ID         string
	Label      string
	PrivateKey []byte // 32 bytes
	PublicKey  []byte // 64 bytes, uncompressed without the 0x04 prefix
	Address    []byte // 20 bytes
	CreatedAt  time.Time
	Source     string
}

// Clone returns a deep copy of the record.
func (r *KeyRecord) Clone() *KeyRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.PrivateKey = cloneBytes(r.PrivateKey)
	cp.PublicKey = cloneBytes(r.PublicKey)
	cp.Address = cloneBytes(r.Address)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
