package application

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	offline "cosafe/internal/offline/domain"
	"cosafe/internal/offline/infrastructure/memory"
)

type stubFetcher struct {
	mu     sync.Mutex
	online bool
	block  bool
	status map[string]int
	calls  []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{online: true, status: map[string]int{}}
}

func (f *stubFetcher) setOnline(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

func (f *stubFetcher) Fetch(ctx context.Context, req offline.Request) (offline.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+req.Key())
	online, block := f.online, f.block
	status, ok := f.status[req.Path]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return offline.Response{}, ctx.Err()
	}
	if !online {
		return offline.Response{}, errors.New("dial tcp: connection refused")
	}
	if !ok {
		status = http.StatusOK
	}
	return offline.Response{Status: status, Body: []byte("net:" + req.Key())}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestWorker(t *testing.T, fetcher Fetcher, opts ...Option) (*Worker, *memory.CacheStorage) {
	t.Helper()
	cache := memory.NewCacheStorage()
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0)), WithOrigin("http://localhost:8080")}, opts...)
	w, err := NewWorker(cache, fetcher, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w, cache
}

func get(path string) offline.Request {
	return offline.Request{Method: http.MethodGet, Origin: "http://localhost:8080", Path: path}
}

func navigate(path string) offline.Request {
	req := get(path)
	req.Navigate = true
	return req
}

func TestInstallCachesShell(t *testing.T) {
	fetcher := newStubFetcher()
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, path := range offline.ShellFiles {
		if _, err := cache.Get(ctx, "co-safe-v1", path); err != nil {
			t.Fatalf("shell file %s not cached: %v", path, err)
		}
	}
	if !w.Installed() {
		t.Fatalf("expected installed")
	}
}

func TestInstallFailureLeavesNoPartialShell(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.status["/static/js/index.js"] = http.StatusInternalServerError
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()
	if err := w.Install(ctx); !errors.Is(err, offline.ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	names, _ := cache.Partitions(ctx)
	if len(names) != 0 {
		t.Fatalf("expected no partitions, got %v", names)
	}
	if w.Installed() {
		t.Fatalf("worker must not report installed")
	}
}

func TestActivateDeletesStalePartitions(t *testing.T) {
	w, cache := newTestWorker(t, newStubFetcher(), WithVersion(2))
	ctx := context.Background()
	_ = cache.Put(ctx, "co-safe-v1", "/", offline.Response{Status: 200})
	_ = cache.Put(ctx, "co-safe-v2", "/", offline.Response{Status: 200})
	_ = cache.Put(ctx, offline.RuntimePartition, "/api/v1/state", offline.Response{Status: 200})

	deleted, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "co-safe-v1" {
		t.Fatalf("unexpected deleted partitions %v", deleted)
	}
	names, _ := cache.Partitions(ctx)
	if len(names) != 2 {
		t.Fatalf("expected core and runtime to remain, got %v", names)
	}
	if !w.Controlling() {
		t.Fatalf("expected worker to control clients")
	}
}

func TestNavigationFallsBackToCachedShell(t *testing.T) {
	fetcher := newStubFetcher()
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}

	resp, err := w.Fetch(ctx, navigate("/history"))
	if err != nil || resp.Source != offline.SourceNetwork {
		t.Fatalf("expected network response, got %+v err=%v", resp, err)
	}
	if _, err := cache.Get(ctx, offline.RuntimePartition, "/history"); err != nil {
		t.Fatalf("expected navigation cached in runtime: %v", err)
	}

	fetcher.setOnline(false)
	resp, err = w.Fetch(ctx, navigate("/history"))
	if err != nil || resp.Source != offline.SourceCache || string(resp.Body) != "net:/history" {
		t.Fatalf("expected exact cached page, got %+v err=%v", resp, err)
	}
	resp, err = w.Fetch(ctx, navigate("/settings"))
	if err != nil || resp.Status != http.StatusOK || string(resp.Body) != "net:/" {
		t.Fatalf("expected cached shell, got %+v err=%v", resp, err)
	}
}

func TestNavigationWithoutCacheReturnsOfflinePage(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.setOnline(false)
	w, _ := newTestWorker(t, fetcher)
	resp, err := w.Fetch(context.Background(), navigate("/"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable || string(resp.Body) != offline.OfflineNavigationBody {
		t.Fatalf("unexpected offline page %d %s", resp.Status, resp.Body)
	}
}

func TestStaticIsCacheFirst(t *testing.T) {
	fetcher := newStubFetcher()
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()

	resp, err := w.Fetch(ctx, get("/static/img/logo.svg"))
	if err != nil || resp.Source != offline.SourceNetwork {
		t.Fatalf("expected network fetch, got %+v err=%v", resp, err)
	}
	if _, err := cache.Get(ctx, "co-safe-v1", "/static/img/logo.svg"); err != nil {
		t.Fatalf("expected asset stored in core partition: %v", err)
	}
	calls := fetcher.callCount()
	resp, err = w.Fetch(ctx, get("/static/img/logo.svg"))
	if err != nil || resp.Source != offline.SourceCache {
		t.Fatalf("expected cached asset, got %+v err=%v", resp, err)
	}
	if fetcher.callCount() != calls {
		t.Fatalf("cache hit must not reach the network")
	}

	fetcher.setOnline(false)
	if _, err := w.Fetch(ctx, get("/static/img/missing.svg")); !errors.Is(err, offline.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestStaticErrorStatusIsNotCached(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.status["/favicon.png"] = http.StatusNotFound
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()
	resp, err := w.Fetch(ctx, get("/favicon.png"))
	if err != nil || resp.Status != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %+v err=%v", resp, err)
	}
	if _, err := cache.Get(ctx, "co-safe-v1", "/favicon.png"); !errors.Is(err, offline.ErrCacheMiss) {
		t.Fatalf("error response must not be cached")
	}
}

func TestAPIOfflineFallback(t *testing.T) {
	fetcher := newStubFetcher()
	w, _ := newTestWorker(t, fetcher)
	ctx := context.Background()
	if _, err := w.Fetch(ctx, get("/api/v1/state")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	fetcher.setOnline(false)

	resp, err := w.Fetch(ctx, get("/api/v1/state"))
	if err != nil || resp.Source != offline.SourceCache {
		t.Fatalf("expected cached api response, got %+v err=%v", resp, err)
	}
	resp, err = w.Fetch(ctx, get("/api/v1/history"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable || !strings.Contains(string(resp.Body), `"error":"Offline"`) {
		t.Fatalf("unexpected offline api response %d %s", resp.Status, resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}

func TestPassthroughSkipsCache(t *testing.T) {
	fetcher := newStubFetcher()
	w, cache := newTestWorker(t, fetcher)
	ctx := context.Background()
	req := offline.Request{Method: http.MethodPost, Path: "/api/v1/readings"}
	if _, err := w.Fetch(ctx, req); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	names, _ := cache.Partitions(ctx)
	if len(names) != 0 {
		t.Fatalf("passthrough must not write the cache, got %v", names)
	}
	fetcher.setOnline(false)
	if _, err := w.Fetch(ctx, req); err == nil {
		t.Fatalf("expected passthrough error while offline")
	}
}

func TestNetworkTimeoutPerClass(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.block = true
	w, _ := newTestWorker(t, fetcher, WithTimeouts(Timeouts{Navigation: 20 * time.Millisecond, Default: time.Second}))
	start := time.Now()
	resp, err := w.Fetch(context.Background(), navigate("/"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected offline page after timeout, got %d", resp.Status)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("navigation timeout not applied")
	}
}

func TestHandleLifecycleEvents(t *testing.T) {
	synced := 0
	w, _ := newTestWorker(t, newStubFetcher(),
		WithSync(func(context.Context) error { synced++; return nil }),
		WithEmergencyContact(func() string { return "112" }),
	)
	ctx := context.Background()

	if _, err := w.Handle(ctx, InstallEvent{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := w.Handle(ctx, ActivateEvent{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	res, err := w.Handle(ctx, FetchEvent{Request: get("/manifest.json")})
	if err != nil || res.Response == nil || res.Response.Source != offline.SourceCache {
		t.Fatalf("expected cached manifest, got %+v err=%v", res, err)
	}

	res, _ = w.Handle(ctx, SyncEvent{Tag: "other"})
	if res.Synced || synced != 0 {
		t.Fatalf("unknown sync tag must be ignored")
	}
	res, err = w.Handle(ctx, SyncEvent{Tag: SyncTag})
	if err != nil || !res.Synced || synced != 1 {
		t.Fatalf("expected sync, got %+v err=%v", res, err)
	}

	res, _ = w.Handle(ctx, PushEvent{Payload: []byte(`{"level":93}`)})
	n := res.Notification
	if n == nil || n.Body != "Critical CO levels detected!" || n.Tag != "co-emergency" || !n.RequireInteraction || len(n.Actions) != 2 {
		t.Fatalf("unexpected notification %+v", n)
	}

	res, _ = w.Handle(ctx, NotificationClickEvent{Action: ActionCall})
	if res.OpenURL != "tel:112" {
		t.Fatalf("unexpected call url %q", res.OpenURL)
	}
	res, _ = w.Handle(ctx, NotificationClickEvent{Action: ActionOpen})
	if res.OpenURL != "/" {
		t.Fatalf("unexpected open url %q", res.OpenURL)
	}
}
