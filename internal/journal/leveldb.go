// Package journal holds the durable escrow.Journal implementations.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"p2pescrow/internal/escrow"
)

const (
	recordKeyPrefix = "rec:"
	eventKeyPrefix  = "evt:"
	counterKey      = "meta:counter"
)

// LevelDB stores the latest version of every record and the full event log
// in an embedded LevelDB database. A commit is written as one batch.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb journal path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb journal path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb journal: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (j *LevelDB) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *LevelDB) Append(ctx context.Context, c escrow.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Record == nil {
		return fmt.Errorf("leveldb journal: commit without record")
	}
	rec, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", c.Record.ID, err)
	}
	ev, err := json.Marshal(c.Event)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", c.Event.Seq, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(uintKey(recordKeyPrefix, c.Record.ID), rec)
	batch.Put(uintKey(eventKeyPrefix, c.Event.Seq), ev)
	batch.Put([]byte(counterKey), encodeUint(c.Counter))
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	return nil
}

func (j *LevelDB) Load(ctx context.Context) (escrow.Snapshot, error) {
	var snap escrow.Snapshot

	raw, err := j.db.Get([]byte(counterKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("load counter: %w", err)
	}
	snap.Counter = binary.BigEndian.Uint64(raw)

	err = j.scan(ctx, recordKeyPrefix, func(value []byte) error {
		var rec escrow.Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		snap.Records = append(snap.Records, &rec)
		return nil
	})
	if err != nil {
		return escrow.Snapshot{}, err
	}

	err = j.scan(ctx, eventKeyPrefix, func(value []byte) error {
		var ev escrow.Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		snap.Events = append(snap.Events, ev)
		return nil
	})
	if err != nil {
		return escrow.Snapshot{}, err
	}
	return snap, nil
}

// scan visits values under prefix in key order. Big-endian keys keep ids and
// sequence numbers ascending.
func (j *LevelDB) scan(ctx context.Context, prefix string, fn func([]byte) error) error {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(append([]byte(nil), iter.Value()...)); err != nil {
			return err
		}
	}
	return iter.Error()
}

func uintKey(prefix string, v uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], v)
	return key
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
