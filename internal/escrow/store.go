package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is the keyed collection of escrow records plus the id allocator. It
// writes through to a Journal before any in-memory change.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]*Record
	counter uint64
	journal Journal
}

// NewStore returns an empty store writing through to journal. A nil journal
// selects an in-memory one.
func NewStore(journal Journal) *Store {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Store{
		records: make(map[uint64]*Record),
		journal: journal,
	}
}

// Counter returns the last allocated id, zero when nothing was created.
func (s *Store) Counter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

// Allocate hands out the next id. Ids are strictly increasing and never reused.
func (s *Store) Allocate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Put stores a copy of rec under rec.ID.
func (s *Store) Put(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("escrow: nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 || rec.ID > s.counter {
		return fmt.Errorf("escrow: record id %d was not allocated", rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// List returns copies of all records ordered by id.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) persist(ctx context.Context, c Commit) error {
	return s.journal.Append(ctx, c)
}

func (s *Store) load(ctx context.Context) (Snapshot, error) {
	return s.journal.Load(ctx)
}

func (s *Store) restore(records []*Record, counter uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter != 0 || len(s.records) != 0 {
		return fmt.Errorf("escrow: restore into non-empty store")
	}
	for _, rec := range records {
		if rec.ID == 0 || rec.ID > counter {
			return fmt.Errorf("escrow: journal record %d beyond counter %d", rec.ID, counter)
		}
		s.records[rec.ID] = rec.Clone()
	}
	s.counter = counter
	return nil
}
