package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	monitoring "cosafe/internal/monitoring/domain"
)

const snapshotKey = "monitoring/snapshot"

// SnapshotStore persists the client snapshot in BadgerDB.
type SnapshotStore struct {
	db  *badger.DB
	key []byte
}

// NewSnapshotStore constructs a Badger-backed store.
func NewSnapshotStore(db *badger.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("monitoring badger: nil db")
	}
	return &SnapshotStore{db: db, key: []byte(snapshotKey)}, nil
}

// Load reads the snapshot blob.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, monitoring.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Save overwrites the snapshot blob.
func (s *SnapshotStore) Save(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, blob)
	})
}
