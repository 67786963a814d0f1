// Package seen remembers EventSub message IDs so that redelivered
// notifications produce one alert.
package seen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Set is a set of message IDs with expiry.
type Set struct {
	db  *badger.DB
	ttl time.Duration
}

// DefaultTTL is the time an ID is remembered when no other time is given.
// Twitch retries delivery for about ten minutes.
const DefaultTTL = 15 * time.Minute

// Open opens a set backed by a badger database at dir.
// If dir is empty, the set is held in memory.
// If ttl is not positive, DefaultTTL is used.
func Open(dir string, ttl time.Duration) (*Set, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	opts = opts.WithCompression(options.None)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("couldn't open message id db: %w", err)
	}
	return New(db, ttl), nil
}

// New creates a set using an already open database.
func New(db *badger.DB, ttl time.Duration) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Set{db: db, ttl: ttl}
}

func key(id string) []byte {
	return append([]byte("msg\xff"), id...)
}

// Add records id. It reports whether id was not already in the set.
// The empty ID is never recorded and is always fresh.
func (s *Set) Add(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fresh := false
	k := key(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		fresh = true
		return txn.SetEntry(badger.NewEntry(k, nil).WithTTL(s.ttl))
	})
	if err != nil {
		return false, fmt.Errorf("couldn't record message id %s: %w", id, err)
	}
	return fresh, nil
}

// Has reports whether id is in the set.
func (s *Set) Has(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ok := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(id))
		switch {
		case err == nil:
			ok = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("couldn't look up message id %s: %w", id, err)
	}
	return ok, nil
}

// Close closes the underlying database.
func (s *Set) Close() error {
	return s.db.Close()
}
