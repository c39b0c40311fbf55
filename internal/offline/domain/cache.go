package offline

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// RuntimePartition holds responses cached while browsing.
	RuntimePartition = "co-safe-runtime"

	corePartitionPrefix = "co-safe-v"
	shellRoot           = "/"
)

// OfflineNavigationBody is served when neither network nor cache can answer a navigation.
const OfflineNavigationBody = "Offline - Please check your connection"

var (
	ErrCacheMiss     = errors.New("offline: cache miss")
	ErrInstallFailed = errors.New("offline: install failed")
	ErrNetwork       = errors.New("offline: network unavailable")
)

// ShellFiles is the application shell precached on install.
var ShellFiles = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/static/css/index.css",
	"/static/js/index.js",
}

// ShellRoot is the cache key of the SPA entry point.
func ShellRoot() string {
	return shellRoot
}

// CorePartition names the versioned shell partition.
func CorePartition(version int) string {
	if version <= 0 {
		version = 1
	}
	return fmt.Sprintf("%s%d", corePartitionPrefix, version)
}

// Response is a cached or fetched HTTP response.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
	Source string      `json:"-"`
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone deep-copies the response so cached bytes are never shared.
func (r Response) Clone() Response {
	out := Response{Status: r.Status, Source: r.Source}
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Response sources reported in metrics.
const (
	SourceNetwork  = "network"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// OfflineNavigation is the last-resort navigation response.
func OfflineNavigation() Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return Response{Status: http.StatusServiceUnavailable, Header: header, Body: []byte(OfflineNavigationBody), Source: SourceFallback}
}

// OfflineAPI is the JSON body returned for API calls with no network and no cache.
func OfflineAPI() Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(`{"error":"Offline","message":"Unable to connect to server"}`),
		Source: SourceFallback,
	}
}
