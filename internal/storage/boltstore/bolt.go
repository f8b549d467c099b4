package boltstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"limitpaste/internal/id"
	"limitpaste/internal/storage"
)

var pasteBucket = []byte("pastes")

// Store implements storage.Store backed by BoltDB.
//
// Bolt serializes read-write transactions, so the check and the increment in
// ConsumeView run as one indivisible step.
type Store struct {
	db  *bolt.DB
	ids *id.Generator
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return errors.Wrap(err, "create paste bucket")
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, ids: id.New(0)}, nil
}

// Create persists a new paste under a freshly generated id.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	var out *storage.Paste
	_, err := s.ids.Insert(ctx, func(pid string) (bool, error) {
		paste := n.Build(pid)
		data, err := json.Marshal(paste)
		if err != nil {
			return false, errors.Wrap(err, "marshal paste")
		}
		inserted := false
		err = s.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(pasteBucket)
			if bucket == nil {
				return errors.New("buckets not initialized")
			}
			if bucket.Get([]byte(pid)) != nil {
				return nil
			}
			if err := bucket.Put([]byte(pid), data); err != nil {
				return errors.Wrap(err, "save paste")
			}
			inserted = true
			return nil
		})
		if inserted {
			out = paste
		}
		return inserted, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotFound
	}

	var out *storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(pid))
		if raw == nil {
			return storage.ErrNotFound
		}
		var paste storage.Paste
		if err := json.Unmarshal(raw, &paste); err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		out = &paste
		return nil
	})

	return out, err
}

// ConsumeView increments the view count of an accessible paste and returns
// the updated record.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotAvailable
	}

	var out *storage.Paste
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(pid))
		if raw == nil {
			return storage.ErrNotAvailable
		}
		var paste storage.Paste
		if err := json.Unmarshal(raw, &paste); err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		if !paste.Accessible(now) {
			return storage.ErrNotAvailable
		}
		paste.ViewCount++
		data, err := json.Marshal(&paste)
		if err != nil {
			return errors.Wrap(err, "marshal paste")
		}
		if err := bucket.Put([]byte(pid), data); err != nil {
			return errors.Wrap(err, "save view count")
		}
		out = &paste
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping verifies the database is open and readable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
