package chain

import (
	"context"
	"fmt"
	"sync"

	"p2pescrow/internal/escrow"
)

// Reader reads escrow state from a deployed contract.
type Reader interface {
	EscrowCounter(ctx context.Context) (uint64, error)
	GetEscrow(ctx context.Context, id uint64) (*escrow.Record, error)
}

// FakeClient is an in-memory Reader for tests.
type FakeClient struct {
	mu      sync.Mutex
	records map[uint64]*escrow.Record
	counter uint64
}

func NewFakeClient() *FakeClient {
	return &FakeClient{records: make(map[uint64]*escrow.Record)}
}

// Set stores rec as the on-chain state of rec.ID.
func (f *FakeClient) Set(rec *escrow.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec.Clone()
	if rec.ID > f.counter {
		f.counter = rec.ID
	}
}

func (f *FakeClient) EscrowCounter(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter, nil
}

func (f *FakeClient) GetEscrow(_ context.Context, id uint64) (*escrow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", escrow.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (f *FakeClient) Ping(_ context.Context) error {
	return nil
}
