// Package idempotency caches responses of mutating requests so a retried
// request with the same key replays the first outcome instead of running twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrRequestMismatch means the key was already used for a different request.
var ErrRequestMismatch = errors.New("idempotency key reused with a different request")

// Record holds a stored response and the fingerprint of the request that
// produced it.
type Record struct {
	RequestHash string    `json:"requestHash"`
	StatusCode  int       `json:"statusCode"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Match returns ErrRequestMismatch when the record was stored for another
// request.
func (r *Record) Match(requestHash string) error {
	if r.RequestHash != requestHash {
		return ErrRequestMismatch
	}
	return nil
}

// Store abstracts idempotency persistence. Get returns nil, nil for unknown
// or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// ScopedKey namespaces a client key by caller and route so two callers can't
// collide on the same key.
func ScopedKey(caller, route, key string) string {
	return strings.ToLower(caller) + "|" + route + "|" + key
}

// HashRequest fingerprints the parts of a request that decide its outcome.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s %s\n", method, path)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

// FileStore keeps records in a JSON file, rewritten on every save. Local
// development only.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("idempotency file path is empty")
	}
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return fmt.Errorf("decode %s: %w", f.path, err)
	}
	f.pruneLocked(time.Now())
	return nil
}

func (f *FileStore) pruneLocked(now time.Time) bool {
	pruned := false
	for key, rec := range f.data {
		if now.After(rec.ExpiresAt) {
			delete(f.data, key)
			pruned = true
		}
	}
	return pruned
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(record.ExpiresAt) {
		delete(f.data, key)
		_ = f.persist()
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked(time.Now())
	f.data[key] = record
	return f.persist()
}
