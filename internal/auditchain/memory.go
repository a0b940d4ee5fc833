package auditchain

import (
	"context"
	"sync"
)

// memRow keeps metadata in its canonical serialized form so that reads return
// independent copies and behave like the SQL stores.
type memRow struct {
	entry Entry
	meta  string
}

// MemoryStore is a write-once, in-process Store. Rows can be appended but never
// overwritten or removed. Intended for tests and single-process deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	rows       []memRow
	byPrev     map[string]int64
	hasGenesis bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byPrev: make(map[string]int64)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, e *Entry) error {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLink(e); err != nil {
		return err
	}

	row := memRow{entry: *e, meta: meta}
	row.entry.ID = int64(len(s.rows)) + 1
	row.entry.Metadata = nil
	s.rows = append(s.rows, row)
	s.byPrev[e.PreviousHash] = row.entry.ID
	if e.Action == ActionChainGenesis {
		s.hasGenesis = true
	}
	e.ID = row.entry.ID
	return nil
}

func (s *MemoryStore) checkLink(e *Entry) error {
	if e.Action == ActionChainGenesis {
		if s.hasGenesis || len(s.rows) > 0 {
			return ErrGenesisExists
		}
		return nil
	}
	if len(s.rows) == 0 {
		return ErrNotInitialized
	}
	if _, taken := s.byPrev[e.PreviousHash]; taken {
		return ErrForkDetected
	}
	if s.rows[len(s.rows)-1].entry.Hash != e.PreviousHash {
		return ErrForkDetected
	}
	return nil
}

// Last implements Store.
func (s *MemoryStore) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rows) == 0 {
		return nil, nil
	}
	return s.rows[len(s.rows)-1].materialize()
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

// Scan implements Store. It iterates over a snapshot of the rows present when the
// call started, so concurrent appends are not observed.
func (s *MemoryStore) Scan(ctx context.Context, from, to int64, fn func(*Entry) error) error {
	s.mu.RLock()
	snapshot := s.rows
	s.mu.RUnlock()

	for i := range snapshot {
		id := snapshot[i].entry.ID
		if id < from || (to > 0 && id > to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := snapshot[i].materialize()
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Entry{}
	for i := range s.rows {
		e, err := s.rows[i].materialize()
		if err != nil {
			return nil, err
		}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return f.sortAndLimit(out), nil
}

// Update implements Store. Entries are write-once.
func (s *MemoryStore) Update(_ context.Context, _ *Entry) error { return ErrImmutable }

// Delete implements Store. Entries are write-once.
func (s *MemoryStore) Delete(_ context.Context, _ int64) error { return ErrImmutable }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (r *memRow) materialize() (*Entry, error) {
	e := r.entry
	m, err := decodeMetadata(r.meta)
	if err != nil {
		return nil, err
	}
	e.Metadata = m
	return &e, nil
}
