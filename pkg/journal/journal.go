// Package journal persists delivered events to a local Pebble database so a
// session can be audited or replayed after the fact. The journal is an
// observer: delivery never blocks on it and a write failure never fails the
// dispatch path.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/envelope"
	"chatrelay/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq breaks key ties when multiple events share the same nanosecond
// timestamp.
var seq uint64

// Record is one journaled event.
type Record struct {
	Identity string `json:"identity"`
	Type     string `json:"type"`
	Data     string `json:"data"`
	At       string `json:"at"`
}

// Open opens (or creates) the journal database at the given path and keeps a
// package-level handle.
func Open(path string) error {
	var err error
	logger.Info("opening_journal_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("journal_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

// Close closes the journal database if open.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("journal_closed")
	return nil
}

// Ready reports whether the journal is open.
func Ready() bool { return db != nil }

// key format: event:<identity>:<unix_nano_padded>-<seq>
func eventKey(identity string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("event:%s:%020d-%06d", identity, ts, s))
}

// Append journals one delivered event under the subscriber identity. Keys
// sort by insertion time so iteration replays in delivery order.
func Append(identity string, ev envelope.Event) error {
	if db == nil {
		return fmt.Errorf("journal not opened; call journal.Open first")
	}
	now := time.Now().UTC()
	rec := Record{Identity: identity, Type: ev.Type, Data: ev.Data, At: now.Format(time.RFC3339Nano)}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	s := atomic.AddUint64(&seq, 1)
	key := eventKey(identity, now.UnixNano(), s)
	if err := db.Set(key, data, pebble.NoSync); err != nil {
		logger.Error("journal_append_failed", "identity", identity, "error", err)
		return err
	}
	appendsTotal.Inc()
	return nil
}

// List returns the journaled records for one identity in delivery order.
// A limit <= 0 means no limit.
func List(identity string, limit int) ([]Record, error) {
	if db == nil {
		return nil, fmt.Errorf("journal not opened; call journal.Open first")
	}
	prefix := []byte("event:" + identity + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("journal_record_invalid", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// SweepOlderThan deletes journaled events older than the cutoff, across all
// identities, and reports how many were removed. The retention cron calls
// this.
func SweepOlderThan(cutoff time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("journal not opened; call journal.Open first")
	}
	prefix := []byte("event:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	var stale [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, rec.At)
		if err != nil || !at.Before(cutoff) {
			continue
		}
		stale = append(stale, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	batch := db.NewBatch()
	defer batch.Close()
	for _, k := range stale {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		sweptTotal.Add(float64(len(stale)))
		logger.Info("journal_swept", "removed", len(stale), "cutoff", cutoff.Format(time.RFC3339))
	}
	return len(stale), nil
}
