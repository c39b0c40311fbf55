package badger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	offline "cosafe/internal/offline/domain"
)

const (
	entryPrefix     = "offline/entry/"
	partitionPrefix = "offline/partition/"
)

// CacheStorage persists cache partitions in BadgerDB so the shell survives restarts.
type CacheStorage struct {
	db *badger.DB
}

// NewCacheStorage constructs a Badger-backed cache.
func NewCacheStorage(db *badger.DB) (*CacheStorage, error) {
	if db == nil {
		return nil, errors.New("offline badger: nil db")
	}
	return &CacheStorage{db: db}, nil
}

func entryKey(partition, key string) []byte {
	return []byte(entryPrefix + partition + "\x00" + key)
}

// Get reads one entry.
func (s *CacheStorage) Get(ctx context.Context, partition, key string) (offline.Response, error) {
	if err := ctx.Err(); err != nil {
		return offline.Response{}, err
	}
	var resp offline.Response
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(partition, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return offline.Response{}, offline.ErrCacheMiss
	}
	if err != nil {
		return offline.Response{}, err
	}
	return resp, nil
}

// Put writes one entry.
func (s *CacheStorage) Put(ctx context.Context, partition, key string, resp offline.Response) error {
	return s.Commit(ctx, partition, map[string]offline.Response{key: resp})
}

// Commit writes all entries in a single transaction.
func (s *CacheStorage) Commit(ctx context.Context, partition string, entries map[string]offline.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(entries))
	for key, resp := range entries {
		blob, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		encoded[key] = blob
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(partitionPrefix+partition), []byte{1}); err != nil {
			return err
		}
		for key, blob := range encoded {
			if err := txn.Set(entryKey(partition, key), blob); err != nil {
				return err
			}
		}
		return nil
	})
}

// Partitions lists partition names in lexical order.
func (s *CacheStorage) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	prefix := []byte(partitionPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), partitionPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition drops the partition marker and every entry under it.
func (s *CacheStorage) DeletePartition(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := []byte(entryPrefix + partition + "\x00")
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Delete([]byte(partitionPrefix + partition)); err != nil {
		return err
	}
	return wb.Flush()
}
