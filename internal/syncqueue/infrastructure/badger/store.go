package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	syncqueue "cosafe/internal/syncqueue/domain"
)

const (
	pendingPrefix = "syncqueue/pending/"
	deadPrefix    = "syncqueue/dead/"
	indexPrefix   = "syncqueue/index/"
	seqKey        = "syncqueue/seq"
	seqBandwidth  = 64
)

// Store persists the queue in BadgerDB. Pending keys sort by sequence so iteration is FIFO.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewStore constructs a Badger-backed store. Close releases the sequence lease.
func NewStore(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("syncqueue badger: nil db")
	}
	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("syncqueue badger: sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases unused sequence numbers.
func (s *Store) Close() error {
	return s.seq.Release()
}

func taskKey(prefix string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

func (s *Store) Append(ctx context.Context, task syncqueue.Task) (syncqueue.Task, error) {
	if err := ctx.Err(); err != nil {
		return syncqueue.Task{}, err
	}
	n, err := s.seq.Next()
	if err != nil {
		return syncqueue.Task{}, err
	}
	task.Seq = n + 1
	blob, err := json.Marshal(task)
	if err != nil {
		return syncqueue.Task{}, err
	}
	key := taskKey(pendingPrefix, task.Seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, blob); err != nil {
			return err
		}
		return txn.Set(indexKey(task.ID), key)
	})
	if err != nil {
		return syncqueue.Task{}, err
	}
	return task, nil
}

func (s *Store) list(ctx context.Context, prefix string) ([]syncqueue.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []syncqueue.Task
	p := []byte(prefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var task syncqueue.Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			}); err != nil {
				return err
			}
			out = append(out, task)
		}
		return nil
	})
	return out, err
}

func (s *Store) Pending(ctx context.Context) ([]syncqueue.Task, error) {
	return s.list(ctx, pendingPrefix)
}

func (s *Store) Dead(ctx context.Context) ([]syncqueue.Task, error) {
	return s.list(ctx, deadPrefix)
}

// lookup returns the primary key of a task by id.
func lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, syncqueue.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) Update(ctx context.Context, task syncqueue.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, task.ID)
		if err != nil {
			return err
		}
		if !bytes.Equal(key, taskKey(pendingPrefix, task.Seq)) {
			return syncqueue.ErrTaskNotFound
		}
		return txn.Set(key, blob)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, id)
		if errors.Is(err, syncqueue.ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

func (s *Store) MoveToDead(ctx context.Context, task syncqueue.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := json.Marshal(task)
	if err != nil {
		return err
	}
	deadKey := taskKey(deadPrefix, task.Seq)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(taskKey(pendingPrefix, task.Seq)); err != nil {
			return err
		}
		if err := txn.Set(deadKey, blob); err != nil {
			return err
		}
		return txn.Set(indexKey(task.ID), deadKey)
	})
}

func (s *Store) Revive(ctx context.Context, id string) (syncqueue.Task, error) {
	if err := ctx.Err(); err != nil {
		return syncqueue.Task{}, err
	}
	var task syncqueue.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, id)
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(key, []byte(deadPrefix)) {
			return syncqueue.ErrTaskNotFound
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &task) }); err != nil {
			return err
		}
		task.Attempts = 0
		task.NextAttemptAt = task.CreatedAt
		blob, err := json.Marshal(task)
		if err != nil {
			return err
		}
		pendingKey := taskKey(pendingPrefix, task.Seq)
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Set(pendingKey, blob); err != nil {
			return err
		}
		return txn.Set(indexKey(id), pendingKey)
	})
	if err != nil {
		return syncqueue.Task{}, err
	}
	return task, nil
}
