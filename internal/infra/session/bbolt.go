// Package session persists the playback state between runs and keeps a
// recently played history.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

var (
	stateBucket   = []byte("state")
	historyBucket = []byte("history")
	snapshotKey   = []byte("snapshot")
)

// keyTimeFormat sorts lexically in time order.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// DefaultHistoryLimit bounds the stored history.
const DefaultHistoryLimit = 50

// HistoryEntry is one recently played song.
type HistoryEntry struct {
	Song     player.Song `json:"song"`
	PlayedAt time.Time   `json:"playedAt"`
}

// Store is a bbolt-backed session store.
type Store struct {
	db           *bbolt.DB
	historyLimit int
	now          func() time.Time
}

// Open opens (or creates) the store at dbPath.
func Open(dbPath string, historyLimit int) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{stateBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create buckets: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{db: db, historyLimit: historyLimit, now: time.Now}, nil
}

// SaveSnapshot stores snap as the state to restore on the next run.
func (s *Store) SaveSnapshot(snap player.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("error serializing snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(snapshotKey, value)
	})
}

// LoadSnapshot returns the saved state. ok is false when nothing was saved.
func (s *Store) LoadSnapshot() (snap player.Snapshot, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(stateBucket).Get(snapshotKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &snap); err != nil {
			return fmt.Errorf("error deserializing snapshot: %w", err)
		}
		ok = true
		return nil
	})
	return snap, ok, err
}

func historyKey(t time.Time, songID string) []byte {
	return []byte(t.UTC().Format(keyTimeFormat) + "|" + songID)
}

func songIDFromKey(k []byte) []byte {
	i := bytes.IndexByte(k, '|')
	if i < 0 {
		return nil
	}
	return k[i+1:]
}

// AddToHistory records song as just played. An earlier entry for the same
// song is replaced, and the oldest entries beyond the limit are dropped.
func (s *Store) AddToHistory(song player.Song) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(historyBucket)

		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if bytes.Equal(songIDFromKey(k), []byte(song.ID)) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		entry := HistoryEntry{Song: song, PlayedAt: s.now()}
		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("error serializing history entry: %w", err)
		}
		if err := b.Put(historyKey(entry.PlayedAt, song.ID), value); err != nil {
			return err
		}

		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - s.historyLimit
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// GetHistory returns up to limit entries, most recent first.
func (s *Store) GetHistory(limit int) ([]HistoryEntry, error) {
	entries := []HistoryEntry{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(historyBucket).Cursor()

		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("error deserializing history entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
