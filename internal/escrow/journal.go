package escrow

import (
	"context"
	"sort"
	"sync"
)

// Commit is the unit persisted for one committed transition: the record as it
// stands afterwards, the event it produced and the allocator value.
type Commit struct {
	Record  *Record
	Event   Event
	Counter uint64
}

// Snapshot is the persisted state a journal hands back at start-up.
type Snapshot struct {
	Records []*Record
	Events  []Event
	Counter uint64
}

// Journal is the persistence layer the store writes through. Append must be
// atomic: either the whole commit is durable or none of it is.
type Journal interface {
	Append(ctx context.Context, c Commit) error
	Load(ctx context.Context) (Snapshot, error)
}

// MemoryJournal keeps commits in memory. It is the default journal and is
// mostly for testing.
type MemoryJournal struct {
	mu      sync.Mutex
	commits []Commit
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Append(ctx context.Context, c Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, Commit{Record: c.Record.Clone(), Event: c.Event.Clone(), Counter: c.Counter})
	return nil
}

func (m *MemoryJournal) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return replay(m.commits), nil
}

// replay folds an ordered commit list into a snapshot. Later commits of the
// same record win.
func replay(commits []Commit) Snapshot {
	latest := make(map[uint64]*Record)
	var snap Snapshot
	for _, c := range commits {
		latest[c.Record.ID] = c.Record.Clone()
		snap.Events = append(snap.Events, c.Event.Clone())
		if c.Counter > snap.Counter {
			snap.Counter = c.Counter
		}
	}
	for _, rec := range latest {
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ID < snap.Records[j].ID })
	return snap
}
