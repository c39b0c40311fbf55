package offline

import (
	"net/http"
	"testing"
)

func TestRoute(t *testing.T) {
	const self = "http://localhost:8080"
	cases := []struct {
		name string
		req  Request
		want Strategy
	}{
		{"post", Request{Method: http.MethodPost, Path: "/api/v1/readings"}, StrategyPassthrough},
		{"cross origin", Request{Method: http.MethodGet, Origin: "https://cdn.example.com", Path: "/lib.js"}, StrategyPassthrough},
		{"navigation", Request{Method: http.MethodGet, Origin: self, Path: "/dashboard", Navigate: true}, StrategyNavigation},
		{"navigation wins over dot", Request{Method: http.MethodGet, Path: "/index.html", Navigate: true}, StrategyNavigation},
		{"static prefix", Request{Method: http.MethodGet, Path: "/static/js/index.js"}, StrategyStatic},
		{"dotted path", Request{Method: http.MethodGet, Path: "/favicon.png"}, StrategyStatic},
		{"manifest", Request{Method: http.MethodGet, Path: "/manifest.json"}, StrategyStatic},
		{"api", Request{Method: http.MethodGet, Path: "/api/v1/state"}, StrategyAPI},
		{"dotted api", Request{Method: http.MethodGet, Path: "/api/v1/export.json"}, StrategyStatic},
		{"default", Request{Method: http.MethodGet, Path: "/settings"}, StrategyCacheThenNetwork},
	}
	for _, tc := range cases {
		if got := Route(tc.req, self); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestRequestKeyIsURL(t *testing.T) {
	if got := (Request{Method: http.MethodGet, Path: "/api/v1/state", RawQuery: "x=1"}).Key(); got != "/api/v1/state?x=1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := (Request{Method: http.MethodGet, Path: "/"}).Key(); got != "/" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestCorePartitionName(t *testing.T) {
	if got := CorePartition(0); got != "co-safe-v1" {
		t.Fatalf("unexpected default partition %q", got)
	}
	if got := CorePartition(3); got != "co-safe-v3" {
		t.Fatalf("unexpected partition %q", got)
	}
}

func TestResponseCloneIsIndependent(t *testing.T) {
	orig := Response{Status: 200, Header: http.Header{"X": {"1"}}, Body: []byte("abc")}
	clone := orig.Clone()
	clone.Body[0] = 'z'
	clone.Header.Set("X", "2")
	if string(orig.Body) != "abc" || orig.Header.Get("X") != "1" {
		t.Fatalf("clone shares state with original")
	}
}
