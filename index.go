package teller

import (
	"context"
	"fmt"
	"sync"
)

// keyIndex is the ordered list of known key ids. It is loaded once before the
// gate opens and only ever grows.
type keyIndex struct {
	mu   sync.RWMutex
	ids  []string
	seen map[string]struct{}
	seq  uint64
}

func newKeyIndex() *keyIndex {
	return &keyIndex{
		ids:  []string{},
		seen: make(map[string]struct{}),
	}
}

// load replaces the contents with the persisted index. On any error the index
// is left empty and the error is returned for reporting; a first run has no
// stored index, so absence is the normal case. Repeated ids keep their first
// position.
func (x *keyIndex) load(ctx context.Context, keys keyspace) error {
	ids, err := keys.getIndex(ctx)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.ids = []string{}
	x.seen = make(map[string]struct{})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, dup := x.seen[id]; dup {
			continue
		}
		x.seen[id] = struct{}{}
		x.ids = append(x.ids, id)
	}
	return nil
}

// append adds id to the end and returns a snapshot to persist together with
// its sequence number. Snapshots with a higher sequence are newer.
func (x *keyIndex) append(id string) ([]string, uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, dup := x.seen[id]; dup {
		return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	x.seen[id] = struct{}{}
	x.ids = append(x.ids, id)
	x.seq++

	snapshot := make([]string, len(x.ids))
	copy(snapshot, x.ids)
	return snapshot, x.seq, nil
}

// all returns a copy of the ids in insertion order.
func (x *keyIndex) all() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, len(x.ids))
	copy(ids, x.ids)
	return ids
}

// len returns the number of ids.
func (x *keyIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}
