package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request. Paths outside /api/ need none.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method
	if !strings.HasPrefix(path, "/api/") {
		return "", false
	}
	readOnly := method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions

	switch {
	case path == "/api/v1/me" || path == "/api/v1/logout":
		return RoleViewer, true
	case path == "/api/v1/settings" && !readOnly:
		return RoleAdmin, true
	case path == "/api/v1/history" && method == http.MethodDelete:
		return RoleAdmin, true
	case path == "/api/v1/alerts" && method == http.MethodDelete:
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/sync/"):
		if readOnly {
			return RoleViewer, true
		}
		return RoleAdmin, true
	case path == "/api/v1/offline/install" || path == "/api/v1/offline/activate":
		return RoleAdmin, true
	}

	if readOnly {
		return RoleViewer, true
	}
	return RoleOperator, true
}
