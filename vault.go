package teller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genecyber/ether-teller/secp256k1"
	"github.com/genecyber/ether-teller/storage"
)

// Vault manages secp256k1 identities persisted in a storage.Store.
//
// The key index is loaded in the background when the vault is created. Every
// operation waits for that load to finish before it touches storage or runs
// any crypto, so callers may use a Vault as soon as New returns.
type Vault struct {
	keys    keyspace
	index   *keyIndex
	gate    *gate
	logger  *slog.Logger
	metrics *metrics
	newID   func() string

	concurrency int

	diagnostics chan error
	diagOnce    sync.Once

	// mu guards closed and orders inflight.Add against Close.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	lastPersisted atomic.Uint64
}

// New creates a Vault on top of store and starts loading the key index.
// A missing or unreadable index leaves the vault empty; unreadable indexes are
// also reported on Diagnostics. The load is detached from ctx cancellation.
func New(ctx context.Context, store storage.Store, cfg Config) (*Vault, error) {
	if store == nil {
		return nil, ErrMissingStore
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &Vault{
		keys:        keyspace{store: store},
		index:       newKeyIndex(),
		gate:        newGate(),
		logger:      cfg.Logger,
		metrics:     newMetrics(cfg.Registerer),
		newID:       cfg.IDGenerator,
		concurrency: cfg.Concurrency,
		diagnostics: make(chan error, cfg.DiagnosticsBuffer),
	}

	v.inflight.Add(1)
	go v.loadIndex(context.WithoutCancel(ctx))

	return v, nil
}

func (v *Vault) loadIndex(ctx context.Context) {
	defer v.inflight.Done()
	defer v.gate.open()

	err := v.index.load(ctx, v.keys)
	count := v.index.len()
	v.metrics.indexSize.Set(float64(count))

	switch {
	case err == nil:
		v.logger.Info("key index loaded", slog.Int("count", count))
	case errors.Is(err, ErrNotFound):
		v.logger.Info("no key index stored, starting empty")
	default:
		v.logger.Warn("key index unreadable, starting empty", slog.String("error", err.Error()))
		v.report(fmt.Errorf("load key index: %w", err))
	}
}

// Ready returns a channel that is closed once the key index has been loaded.
func (v *Vault) Ready() <-chan struct{} {
	return v.gate.ready()
}

// Diagnostics delivers background failures that have no caller to return to,
// such as key index writes. Reports are dropped when the buffer is full. The
// channel is closed by a successful Close.
func (v *Vault) Diagnostics() <-chan error {
	return v.diagnostics
}

// Close stops accepting operations and waits for background writes to finish
// or for ctx to be done.
func (v *Vault) Close(ctx context.Context) error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	done := make(chan struct{})
	go func() {
		v.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		v.diagOnce.Do(func() { close(v.diagnostics) })
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Vault) report(err error) {
	select {
	case v.diagnostics <- err:
	default:
		v.metrics.diagnosticsDropped.Inc()
		v.logger.Warn("diagnostic dropped", slog.String("error", err.Error()))
	}
}

// await blocks until the index is loaded and rejects calls on a closed vault
// or with a done ctx.
func (v *Vault) await(ctx context.Context) error {
	if err := v.gate.wait(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}
	return nil
}

// GenerateIdentity creates a fresh key pair and stores it under label.
func (v *Vault) GenerateIdentity(ctx context.Context, label string) (*Identity, error) {
	if err := v.await(ctx); err != nil {
		err = WrapKeyError(opGenerate, "", err)
		v.metrics.observe(opGenerate, err)
		return nil, err
	}

	privateKey, err := secp256k1.GenerateKey()
	if err != nil {
		err = WrapKeyError(opGenerate, "", fmt.Errorf("%w: %w", ErrCrypto, err))
		v.metrics.observe(opGenerate, err)
		return nil, err
	}
	defer secp256k1.SecureZero(privateKey)

	ident, result := v.importIdentity(ctx, opGenerate, label, privateKey, SourceGenerated)
	if err := <-result; err != nil {
		return nil, err
	}
	v.logger.Info("identity generated", slog.String("id", ident.ID()), slog.String("address", ident.Address()))
	return ident, nil
}

// ImportIdentity stores privateKey under label and waits until the record has
// been written. The key index is persisted in the background.
func (v *Vault) ImportIdentity(ctx context.Context, label string, privateKey []byte) (*Identity, error) {
	ident, result := v.importIdentity(ctx, opImport, label, privateKey, SourceImported)
	if err := <-result; err != nil {
		return nil, err
	}
	return ident, nil
}

// ImportIdentityAsync is ImportIdentity without waiting for the record write.
// The identity is usable for address queries immediately; the channel yields
// exactly one value, nil on success, and is then closed. On validation failure
// the identity is nil and the error is already on the channel.
func (v *Vault) ImportIdentityAsync(ctx context.Context, label string, privateKey []byte) (*Identity, <-chan error) {
	return v.importIdentity(ctx, opImport, label, privateKey, SourceImported)
}

// importIdentity registers a new record and writes it in the background. Once
// the id is in the index the record write no longer follows ctx
// cancellation, so an indexed id always gets its record attempt.
func (v *Vault) importIdentity(ctx context.Context, op, label string, privateKey []byte, source string) (*Identity, <-chan error) {
	result := make(chan error, 1)
	fail := func(id string, err error) (*Identity, <-chan error) {
		err = WrapKeyError(op, id, err)
		v.metrics.observe(op, err)
		result <- err
		close(result)
		return nil, result
	}

	if err := v.await(ctx); err != nil {
		return fail("", err)
	}

	record, err := v.newRecord(label, privateKey, source)
	if err != nil {
		return fail("", err)
	}

	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		secp256k1.SecureZero(record.PrivateKey)
		return fail(record.ID, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		v.mu.RUnlock()
		secp256k1.SecureZero(record.PrivateKey)
		return fail(record.ID, err)
	}
	snapshot, seq, err := v.index.append(record.ID)
	if err != nil {
		v.mu.RUnlock()
		secp256k1.SecureZero(record.PrivateKey)
		return fail(record.ID, err)
	}
	v.inflight.Add(2)
	v.mu.RUnlock()

	v.metrics.indexSize.Set(float64(len(snapshot)))
	writeCtx := context.WithoutCancel(ctx)
	go v.persistIndex(writeCtx, snapshot, seq)

	ident := newIdentity(v, record)
	go func() {
		defer v.inflight.Done()
		defer close(result)
		defer secp256k1.SecureZero(record.PrivateKey)

		err := v.keys.putRecord(writeCtx, record)
		if err != nil {
			v.logger.Error("key record write failed",
				slog.String("id", record.ID),
				slog.String("error", err.Error()),
			)
		}
		err = WrapKeyError(op, record.ID, err)
		v.metrics.observe(op, err)
		result <- err
	}()

	return ident, result
}

// newRecord validates privateKey and derives the public half. The returned
// record owns a copy of the key.
func (v *Vault) newRecord(label string, privateKey []byte, source string) (*KeyRecord, error) {
	if len(privateKey) != secp256k1.PrivateKeyLength {
		return nil, NewValidationError("privateKey",
			fmt.Sprintf("must be %d bytes, got %d", secp256k1.PrivateKeyLength, len(privateKey)))
	}

	publicKey, err := secp256k1.PrivateToPublic(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	address, err := secp256k1.PublicToAddress(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	id := v.newID()
	if id == "" {
		return nil, NewValidationError("id", "generator returned an empty id")
	}

	return &KeyRecord{
		ID:         id,
		Label:      label,
		PrivateKey: cloneBytes(privateKey),
		PublicKey:  publicKey,
		Address:    address,
		CreatedAt:  time.Now().UTC(),
		Source:     source,
	}, nil
}

// persistIndex writes one index snapshot. Writes are not serialized: a slower
// write of an older snapshot may land after a newer one. That case is counted
// and reported but not prevented.
func (v *Vault) persistIndex(ctx context.Context, snapshot []string, seq uint64) {
	defer v.inflight.Done()

	if err := v.keys.putIndex(ctx, snapshot); err != nil {
		v.metrics.indexPersistFailures.Inc()
		v.logger.Warn("key index write failed",
			slog.Uint64("seq", seq),
			slog.Int("count", len(snapshot)),
			slog.String("error", err.Error()),
		)
		v.report(&IndexPersistError{Seq: seq, Count: len(snapshot), Err: err})
		return
	}

	for {
		last := v.lastPersisted.Load()
		if seq < last {
			v.metrics.indexPersistReordered.Inc()
			v.logger.Warn("stale key index snapshot written",
				slog.Uint64("seq", seq),
				slog.Uint64("newest", last),
			)
			v.report(&IndexPersistError{Seq: seq, Count: len(snapshot), Err: ErrStaleIndex})
			return
		}
		if v.lastPersisted.CompareAndSwap(last, seq) {
			return
		}
	}
}

// ExportIdentity returns the full record stored under id, private key
// included. Storage is consulted directly, so a record written before its id
// reached the index is still found.
func (v *Vault) ExportIdentity(ctx context.Context, id string) (*KeyRecord, error) {
	record, err := v.exportIdentity(ctx, id)
	v.metrics.observe(opExport, err)
	return record, err
}

func (v *Vault) exportIdentity(ctx context.Context, id string) (*KeyRecord, error) {
	if err := v.await(ctx); err != nil {
		return nil, WrapKeyError(opExport, id, err)
	}
	record, err := v.keys.getRecord(ctx, id)
	if err != nil {
		return nil, WrapKeyError(opExport, id, err)
	}
	return record, nil
}

// ExportAll returns every indexed record in index order. Records are loaded
// in parallel; the first failure aborts the call.
func (v *Vault) ExportAll(ctx context.Context) ([]*KeyRecord, error) {
	records, err := v.exportAll(ctx)
	v.metrics.observe(opExportAll, err)
	return records, err
}

func (v *Vault) exportAll(ctx context.Context) ([]*KeyRecord, error) {
	if err := v.await(ctx); err != nil {
		return nil, WrapKeyError(opExportAll, "", err)
	}
	return collect(ctx, v.index.all(), v.concurrency, func(ctx context.Context, id string) (*KeyRecord, error) {
		record, err := v.keys.getRecord(ctx, id)
		if err != nil {
			return nil, WrapKeyError(opExportAll, id, err)
		}
		return record, nil
	})
}

// LookupIdentity returns the identity stored under id without exposing its
// private key.
func (v *Vault) LookupIdentity(ctx context.Context, id string) (*Identity, error) {
	ident, err := v.lookupIdentity(ctx, opLookup, id)
	v.metrics.observe(opLookup, err)
	return ident, err
}

func (v *Vault) lookupIdentity(ctx context.Context, op, id string) (*Identity, error) {
	if err := v.await(ctx); err != nil {
		return nil, WrapKeyError(op, id, err)
	}
	record, err := v.keys.getRecord(ctx, id)
	if err != nil {
		return nil, WrapKeyError(op, id, err)
	}
	secp256k1.SecureZero(record.PrivateKey)
	return newIdentity(v, record), nil
}

// LookupAll returns every indexed identity in index order, without private
// keys. The first failure aborts the call.
func (v *Vault) LookupAll(ctx context.Context) ([]*Identity, error) {
	idents, err := v.lookupAll(ctx)
	v.metrics.observe(opLookupAll, err)
	return idents, err
}

func (v *Vault) lookupAll(ctx context.Context) ([]*Identity, error) {
	if err := v.await(ctx); err != nil {
		return nil, WrapKeyError(opLookupAll, "", err)
	}
	return collect(ctx, v.index.all(), v.concurrency, func(ctx context.Context, id string) (*Identity, error) {
		return v.lookupIdentity(ctx, opLookupAll, id)
	})
}

// IDs returns the indexed key ids in insertion order.
func (v *Vault) IDs(ctx context.Context) ([]string, error) {
	if err := v.await(ctx); err != nil {
		return nil, err
	}
	return v.index.all(), nil
}

// withPrivateKey loads the record for id and passes its private key to fn.
// The key is zeroed when fn returns; fn must not retain it.
func (v *Vault) withPrivateKey(ctx context.Context, op, id string, fn func(privateKey []byte) error) error {
	err := func() error {
		if err := v.await(ctx); err != nil {
			return err
		}
		record, err := v.keys.getRecord(ctx, id)
		if err != nil {
			return err
		}
		defer secp256k1.SecureZero(record.PrivateKey)

		if err := fn(record.PrivateKey); err != nil {
			return fmt.Errorf("%w: %w", ErrCrypto, err)
		}
		return nil
	}()

	err = WrapKeyError(op, id, err)
	v.metrics.observe(op, err)
	return err
}

// collect runs load for every id with at most limit calls in flight and
// returns the results in the order of ids.
func collect[T any](ctx context.Context, ids []string, limit int, load func(context.Context, string) (T, error)) ([]T, error) {
	out := make([]T, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			item, err := load(gctx, id)
			if err != nil {
				return err
			}
			out[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
