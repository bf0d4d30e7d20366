// Package history records per-collection statistics in SQLite so that
// collector tuning can be compared across runs.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/cbgc/gc"
)

// ErrNoRecords indicates the store holds no collections.
var ErrNoRecords = errors.New("history: no records")

var log = commonlog.GetLogger("cbgc.history")

// Record is one stored collection.
type Record struct {
	ID            int64
	RunID         string
	Reason        string
	ObjectsBefore     int
	ObjectsFreed      int
	ObjectsLive       int
	BytesBefore       int
	BytesAfter        int
	FinalizerReleases int
	NextThreshold     int
	Duration          time.Duration
	Timestamp         time.Time
}

// Store persists collection statistics.
type Store struct {
	db    *sql.DB
	runID string
	mu    sync.Mutex
}

// Open opens or creates the history database at path. Every collection
// recorded through the returned Store is tagged with runID.
func Open(path, runID string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		objects_before INTEGER NOT NULL,
		objects_freed INTEGER NOT NULL,
		objects_live INTEGER NOT NULL,
		bytes_before INTEGER NOT NULL,
		bytes_after INTEGER NOT NULL,
		finalizer_releases INTEGER NOT NULL,
		next_threshold INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		at_ns INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: creating table: %w", err)
	}

	return &Store{db: db, runID: runID}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores one collection.
func (s *Store) Record(st *gc.CollectStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO collections (
		run_id, reason, objects_before, objects_freed, objects_live,
		bytes_before, bytes_after, finalizer_releases, next_threshold, duration_ns, at_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, string(st.Reason), st.ObjectsBefore, st.ObjectsFreed, st.ObjectsLive,
		st.BytesBefore, st.BytesAfter, st.FinalizerReleases, st.NextThreshold,
		int64(st.Duration), st.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: recording collection: %w", err)
	}
	return nil
}

// Attach records every collection c completes. Recording failures are
// logged; they never reach the collector.
func (s *Store) Attach(c *gc.Collector) {
	c.OnCollect(func(st *gc.CollectStats) {
		if err := s.Record(st); err != nil {
			log.Errorf("%s", err)
		}
	})
}

// Recent returns up to n of the most recent collections, newest first,
// across all runs.
func (s *Store) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, run_id, reason, objects_before, objects_freed,
		objects_live, bytes_before, bytes_after, finalizer_releases, next_threshold, duration_ns, at_ns
		FROM collections ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: querying collections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var dur, at int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Reason, &r.ObjectsBefore, &r.ObjectsFreed,
			&r.ObjectsLive, &r.BytesBefore, &r.BytesAfter, &r.FinalizerReleases, &r.NextThreshold,
			&dur, &at); err != nil {
			return nil, fmt.Errorf("history: scanning collection: %w", err)
		}
		r.Duration = time.Duration(dur)
		r.Timestamp = time.Unix(0, at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: reading collections: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

// RunSummary aggregates the collections of one run.
type RunSummary struct {
	RunID       string
	Collections int
	BytesFreed  int
	Total       time.Duration
}

// Summarize aggregates collections per run, in first-seen order.
func (s *Store) Summarize() ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT run_id, COUNT(*), SUM(bytes_before - bytes_after), SUM(duration_ns)
		FROM collections GROUP BY run_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("history: summarizing: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var total int64
		if err := rows.Scan(&r.RunID, &r.Collections, &r.BytesFreed, &total); err != nil {
			return nil, fmt.Errorf("history: scanning summary: %w", err)
		}
		r.Total = time.Duration(total)
		out = append(out, r)
	}
	return out, rows.Err()
}
