// Package storage defines the key-value contract the vault persists through
// and provides adapters for the supported engines.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("storage: not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: closed")
	// ErrInvalidKey is returned for keys that cannot be stored on every backend.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store is an opaque key-value store. Implementations must be safe for
// concurrent use; Get and Put may block on I/O and honor ctx.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases resources held by the store.
	Close() error

	// Type returns the backend name (e.g. "memory", "file").
	Type() string
}

// Type names a storage backend.
type Type string

// Supported storage types.
const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeRedis  Type = "redis"
	TypeBadger Type = "badger"
)

// Config selects and configures a backend.
type Config struct {
	Type Type `mapstructure:"type" validate:"oneof=memory file redis badger openbao_kv"`

	// Path is the base directory for file and badger stores. An empty
	// badger path opens an in-memory database.
	Path string `mapstructure:"path" validate:"required_if=Type file"`

	// Redis settings.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Remote OpenBao KV v2 settings.
	BaoAddr          string `mapstructure:"bao_addr"`
	BaoToken         string `mapstructure:"bao_token" validate:"required_if=Type openbao_kv"`
	BaoNamespace     string `mapstructure:"bao_namespace"`
	BaoMount         string `mapstructure:"bao_mount"`
	BaoSkipTLSVerify bool   `mapstructure:"bao_skip_tls_verify"`

	// Prefix namespaces keys in shared backends (redis, openbao_kv).
	Prefix string `mapstructure:"prefix"`
}

// NewStore creates the backend described by cfg.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFileStore(cfg.Path)
	case TypeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis storage requires an address")
		}
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		})
	case TypeBadger:
		return NewBadgerStore(cfg.Path)
	case TypeBaoKV:
		return NewBaoKVStore(ctx, BaoKVOptions{
			Addr:          cfg.BaoAddr,
			Token:         cfg.BaoToken,
			Namespace:     cfg.BaoNamespace,
			Mount:         cfg.BaoMount,
			Prefix:        cfg.Prefix,
			SkipTLSVerify: cfg.BaoSkipTLSVerify,
		})
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// validateKey rejects keys that cannot be mapped safely onto every backend.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if strings.Contains(key, "..") ||
		strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidKey, key)
	}
	return nil
}
