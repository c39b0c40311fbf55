package badger

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dgraph-io/badger/v4"

	offline "cosafe/internal/offline/domain"
)

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCacheStoragePartitions(t *testing.T) {
	store, err := NewCacheStorage(openInMemory(t))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	header := http.Header{}
	header.Set("Content-Type", "text/html")
	shell := map[string]offline.Response{
		"/":           {Status: 200, Header: header, Body: []byte("<html>")},
		"/index.html": {Status: 200, Body: []byte("<html>")},
	}
	if err := store.Commit(ctx, "co-safe-v1", shell); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Put(ctx, "co-safe-v10", "/", offline.Response{Status: 200, Body: []byte("v10")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "co-safe-runtime", "/api/v1/state", offline.Response{Status: 200, Body: []byte("{}")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "co-safe-v1", "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Body) != "<html>" || got.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("unexpected entry %+v", got)
	}
	if _, err := store.Get(ctx, "co-safe-v1", "/missing"); !errors.Is(err, offline.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	names, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 partitions, got %v", names)
	}

	if err := store.DeletePartition(ctx, "co-safe-v1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "co-safe-v1", "/"); !errors.Is(err, offline.ErrCacheMiss) {
		t.Fatalf("expected deleted entry, got %v", err)
	}
	if got, err := store.Get(ctx, "co-safe-v10", "/"); err != nil || string(got.Body) != "v10" {
		t.Fatalf("sibling partition affected: %v", err)
	}
	names, _ = store.Partitions(ctx)
	if len(names) != 2 {
		t.Fatalf("expected 2 partitions after delete, got %v", names)
	}
}
