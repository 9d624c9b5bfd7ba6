// Package history keeps a persistent record of finished downloads in a small
// bbolt database, so past jobs can be inspected long after the live display
// is gone.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	historyBucket  = "history"
	metadataBucket = "metadata"
	schemaVersion  = 1

	// DefaultDBFile is the database file name, placed in the home directory.
	DefaultDBFile = ".kumo-history.db"

	// timeKeyFormat is RFC 3339 with zero-padded nanoseconds, so the
	// lexicographic key order bbolt keeps is also chronological.
	timeKeyFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

type Entry struct {
	ID         string    `json:"id"`
	JobType    string    `json:"job_type"`
	URL        string    `json:"url"`
	OutputPath string    `json:"output_path"`
	Size       int64     `json:"size,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath puts the database in the user's home directory so history
// accumulates across working directories.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDBFile
	}
	return filepath.Join(home, DefaultDBFile)
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(historyBucket)); err != nil {
			return fmt.Errorf("creating history bucket: %w", err)
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("creating metadata bucket: %w", err)
		}
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// Record stores one finished job, keyed by start time and job ID.
func (s *Store) Record(entry Entry) error {
	if entry.ID == "" {
		return errors.New("history entry needs an ID")
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", historyBucket)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling history entry: %w", err)
		}
		key := entry.StartedAt.UTC().Format(timeKeyFormat) + "|" + entry.ID
		return bucket.Put([]byte(key), data)
	})
}

// List returns entries newest first. A limit of 0 means no limit; failedOnly
// filters the listing down to jobs that did not complete.
func (s *Store) List(limit int, failedOnly bool) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", historyBucket)
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt history entry %s: %w", k, err)
			}
			if failedOnly && entry.Status != StatusFailed {
				continue
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune removes entries that started more than olderThan ago and reports how
// many were dropped.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(timeKeyFormat)
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", historyBucket)
		}
		var stale [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			// keys are chronological, everything from the cutoff on stays
			if string(k) >= cutoff {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
