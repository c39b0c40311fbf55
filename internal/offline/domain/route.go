package offline

import (
	"net/http"
	"strings"
)

// Strategy names how a request is served.
type Strategy string

const (
	StrategyPassthrough      Strategy = "passthrough"
	StrategyNavigation       Strategy = "navigation"
	StrategyStatic           Strategy = "static"
	StrategyAPI              Strategy = "api"
	StrategyCacheThenNetwork Strategy = "cache_then_network"
)

// Request is the part of an intercepted request the router needs.
type Request struct {
	Method   string
	Origin   string
	Path     string
	RawQuery string
	Navigate bool
	// Header and Body are forwarded on passthrough requests only.
	Header http.Header
	Body   []byte
}

// Key identifies the request in a cache partition. Only GET requests are cached,
// so the URL alone is the request identity.
func (r Request) Key() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// Route picks the serving strategy. selfOrigin is the origin the worker controls.
func Route(req Request, selfOrigin string) Strategy {
	if req.Method != http.MethodGet {
		return StrategyPassthrough
	}
	if req.Origin != "" && !strings.EqualFold(req.Origin, selfOrigin) {
		return StrategyPassthrough
	}
	if req.Navigate {
		return StrategyNavigation
	}
	if strings.HasPrefix(req.Path, "/static/") || strings.Contains(req.Path, ".") || req.Path == "/manifest.json" {
		return StrategyStatic
	}
	if strings.HasPrefix(req.Path, "/api/") {
		return StrategyAPI
	}
	return StrategyCacheThenNetwork
}
