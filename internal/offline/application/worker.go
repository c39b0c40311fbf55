package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"cosafe/internal/observability/metrics"
	offline "cosafe/internal/offline/domain"
)

// CacheStorage holds named cache partitions.
type CacheStorage interface {
	// Get returns offline.ErrCacheMiss when the key is absent.
	Get(ctx context.Context, partition, key string) (offline.Response, error)
	Put(ctx context.Context, partition, key string, resp offline.Response) error
	// Commit writes every entry or none.
	Commit(ctx context.Context, partition string, entries map[string]offline.Response) error
	Partitions(ctx context.Context) ([]string, error)
	DeletePartition(ctx context.Context, partition string) error
}

// Fetcher performs the network request. A returned error means the network was unreachable;
// HTTP error statuses are returned as responses.
type Fetcher interface {
	Fetch(ctx context.Context, req offline.Request) (offline.Response, error)
}

// SyncFunc drains pending background work.
type SyncFunc func(ctx context.Context) error

// Timeouts bounds each network attempt per request class.
type Timeouts struct {
	Navigation time.Duration
	Static     time.Duration
	API        time.Duration
	Default    time.Duration
}

// DefaultTimeouts returns the stock per-class network timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation: 5 * time.Second,
		Static:     10 * time.Second,
		API:        8 * time.Second,
		Default:    10 * time.Second,
	}
}

func (t Timeouts) forStrategy(s offline.Strategy) time.Duration {
	var d time.Duration
	switch s {
	case offline.StrategyNavigation:
		d = t.Navigation
	case offline.StrategyStatic:
		d = t.Static
	case offline.StrategyAPI:
		d = t.API
	default:
		d = t.Default
	}
	if d <= 0 {
		d = t.Default
	}
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

// Worker is the offline cache router.
type Worker struct {
	cache    CacheStorage
	fetcher  Fetcher
	origin   string
	version  int
	timeouts Timeouts
	logger   *log.Logger
	sync     SyncFunc
	contact  func() string

	mu          sync.RWMutex
	installed   bool
	controlling bool
}

// Option customizes the worker.
type Option func(*Worker)

// WithOrigin sets the origin the worker controls.
func WithOrigin(origin string) Option {
	return func(w *Worker) {
		w.origin = strings.TrimRight(origin, "/")
	}
}

// WithVersion sets the shell partition version.
func WithVersion(version int) Option {
	return func(w *Worker) {
		if version > 0 {
			w.version = version
		}
	}
}

// WithTimeouts overrides the network timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(w *Worker) {
		w.timeouts = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSync sets the background sync callback.
func WithSync(fn SyncFunc) Option {
	return func(w *Worker) {
		w.sync = fn
	}
}

// WithEmergencyContact sets the number dialed from the call notification action.
func WithEmergencyContact(fn func() string) Option {
	return func(w *Worker) {
		if fn != nil {
			w.contact = fn
		}
	}
}

// NewWorker constructs a worker.
func NewWorker(cache CacheStorage, fetcher Fetcher, opts ...Option) (*Worker, error) {
	if cache == nil {
		return nil, errors.New("offline worker: nil cache storage")
	}
	if fetcher == nil {
		return nil, errors.New("offline worker: nil fetcher")
	}
	w := &Worker{
		cache:    cache,
		fetcher:  fetcher,
		version:  1,
		timeouts: DefaultTimeouts(),
		logger:   log.Default(),
		contact:  func() string { return "911" },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// CorePartition returns the active shell partition name.
func (w *Worker) CorePartition() string {
	return offline.CorePartition(w.version)
}

// Installed reports whether the shell is cached.
func (w *Worker) Installed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.installed
}

// Controlling reports whether Activate has completed.
func (w *Worker) Controlling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.controlling
}

// Install fetches the whole shell and commits it in one step.
func (w *Worker) Install(ctx context.Context) error {
	staged := make(map[string]offline.Response, len(offline.ShellFiles))
	for _, path := range offline.ShellFiles {
		req := offline.Request{Method: "GET", Origin: w.origin, Path: path}
		resp, err := w.network(ctx, req, offline.StrategyStatic)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", offline.ErrInstallFailed, path, err)
		}
		if !resp.OK() {
			return fmt.Errorf("%w: %s: status %d", offline.ErrInstallFailed, path, resp.Status)
		}
		staged[path] = resp
	}
	if err := w.cache.Commit(ctx, w.CorePartition(), staged); err != nil {
		metrics.IncStorageError("offline_cache")
		return fmt.Errorf("%w: commit: %v", offline.ErrInstallFailed, err)
	}
	w.mu.Lock()
	w.installed = true
	w.mu.Unlock()
	w.logger.Printf("offline install: partition=%s files=%d", w.CorePartition(), len(staged))
	return nil
}

// Activate deletes stale partitions and takes control. It returns the deleted names.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	partitions, err := w.cache.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("offline activate: %w", err)
	}
	core := w.CorePartition()
	var deleted []string
	for _, name := range partitions {
		if name == core || name == offline.RuntimePartition {
			continue
		}
		if err := w.cache.DeletePartition(ctx, name); err != nil {
			return deleted, fmt.Errorf("offline activate: delete %s: %w", name, err)
		}
		w.logger.Printf("offline activate: deleted partition=%s", name)
		deleted = append(deleted, name)
	}
	w.mu.Lock()
	w.controlling = true
	w.mu.Unlock()
	return deleted, nil
}

// Fetch serves req using the strategy chosen by offline.Route.
func (w *Worker) Fetch(ctx context.Context, req offline.Request) (offline.Response, error) {
	start := time.Now()
	strategy := offline.Route(req, w.origin)
	var (
		resp offline.Response
		err  error
	)
	switch strategy {
	case offline.StrategyPassthrough:
		resp, err = w.network(ctx, req, strategy)
	case offline.StrategyNavigation:
		resp = w.navigation(ctx, req)
	case offline.StrategyStatic:
		resp, err = w.static(ctx, req)
	case offline.StrategyAPI:
		resp = w.api(ctx, req)
	default:
		resp, err = w.cacheThenNetwork(ctx, req)
	}
	source := resp.Source
	if err != nil {
		source = "error"
	}
	metrics.ObserveOfflineFetch(string(strategy), source, time.Since(start))
	return resp, err
}

func (w *Worker) navigation(ctx context.Context, req offline.Request) offline.Response {
	resp, err := w.network(ctx, req, offline.StrategyNavigation)
	if err == nil {
		if resp.OK() {
			w.store(ctx, offline.RuntimePartition, req.Key(), resp)
		}
		return resp
	}
	w.logger.Printf("offline navigation: network failed path=%s err=%v", req.Path, err)
	if cached, ok := w.match(ctx, req.Key()); ok {
		return cached
	}
	if cached, ok := w.match(ctx, offline.ShellRoot()); ok {
		cached.Source = offline.SourceFallback
		return cached
	}
	return offline.OfflineNavigation()
}

func (w *Worker) static(ctx context.Context, req offline.Request) (offline.Response, error) {
	if cached, ok := w.match(ctx, req.Key()); ok {
		return cached, nil
	}
	resp, err := w.network(ctx, req, offline.StrategyStatic)
	if err == nil {
		if resp.OK() {
			w.store(ctx, w.CorePartition(), req.Key(), resp)
		}
		return resp, nil
	}
	if cached, ok := w.match(ctx, req.Key()); ok {
		return cached, nil
	}
	w.logger.Printf("offline static: fetch failed path=%s err=%v", req.Path, err)
	return offline.Response{}, fmt.Errorf("%w: %v", offline.ErrNetwork, err)
}

func (w *Worker) api(ctx context.Context, req offline.Request) offline.Response {
	resp, err := w.network(ctx, req, offline.StrategyAPI)
	if err == nil {
		if resp.OK() && req.Method == "GET" {
			w.store(ctx, offline.RuntimePartition, req.Key(), resp)
		}
		return resp
	}
	if req.Method == "GET" {
		if cached, ok := w.match(ctx, req.Key()); ok {
			return cached
		}
	}
	return offline.OfflineAPI()
}

func (w *Worker) cacheThenNetwork(ctx context.Context, req offline.Request) (offline.Response, error) {
	if cached, ok := w.match(ctx, req.Key()); ok {
		return cached, nil
	}
	resp, err := w.network(ctx, req, offline.StrategyCacheThenNetwork)
	if err == nil {
		return resp, nil
	}
	if req.Navigate {
		if cached, ok := w.match(ctx, offline.ShellRoot()); ok {
			cached.Source = offline.SourceFallback
			return cached, nil
		}
	}
	return offline.Response{}, fmt.Errorf("%w: %v", offline.ErrNetwork, err)
}

func (w *Worker) network(ctx context.Context, req offline.Request, strategy offline.Strategy) (offline.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeouts.forStrategy(strategy))
	defer cancel()
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return offline.Response{}, err
	}
	resp.Source = offline.SourceNetwork
	return resp, nil
}

// match looks the key up in the shell partition, then runtime, then any other partition.
func (w *Worker) match(ctx context.Context, key string) (offline.Response, bool) {
	order := []string{w.CorePartition(), offline.RuntimePartition}
	if others, err := w.cache.Partitions(ctx); err == nil {
		for _, name := range others {
			if name != order[0] && name != order[1] {
				order = append(order, name)
			}
		}
	}
	for _, partition := range order {
		resp, err := w.cache.Get(ctx, partition, key)
		if err == nil {
			resp.Source = offline.SourceCache
			return resp, true
		}
		if !errors.Is(err, offline.ErrCacheMiss) {
			metrics.IncStorageError("offline_cache")
			w.logger.Printf("offline cache read error: partition=%s key=%s err=%v", partition, key, err)
		}
	}
	return offline.Response{}, false
}

func (w *Worker) store(ctx context.Context, partition, key string, resp offline.Response) {
	if err := w.cache.Put(ctx, partition, key, resp.Clone()); err != nil {
		metrics.IncStorageError("offline_cache")
		w.logger.Printf("offline cache write error: partition=%s key=%s err=%v", partition, key, err)
	}
}
