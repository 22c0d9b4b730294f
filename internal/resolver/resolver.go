// Package resolver implements moxy's route matching (spec.md §4.3): given an
// incoming request's method and URI path, find the first declared route
// that matches and, for wildcard routes, the captured parameter.
//
// The matcher compilation here is the Go-idiomatic descendant of the
// teacher repo's (worldiety-vfs) router.go Router/matcher type: an ordered
// list of matchers, tried in declaration order, first hit wins. Where the
// teacher generalizes over named/`*` path segments, this package narrows
// to the single spec.md §3 wildcard token `$$$`, and preserves the
// suffix-match fallback spec.md §4.3 calls out as a "known fragility" that
// must not be silently fixed.
package resolver

import (
	"strings"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
)

const wildcardToken = "$$$"

// Match is the result of a successful lookup.
type Match struct {
	Route     catalogpkg.Route
	Parameter string // captured wildcard segment; empty if the route had no wildcard
	HasParam  bool
}

type matcher struct {
	route    catalogpkg.Route
	wildcard bool
	prefix   string // valid when wildcard
	suffix   string // valid when wildcard
	pattern  string // valid when !wildcard: matched as a URI suffix (spec.md §4.3 "known fragility")
}

// Resolver holds a compiled, ordered matcher table. Recompile is cheap
// enough to call per request, but callers that resolve at high QPS should
// reuse a Resolver across requests that share a Catalog generation — see
// the Dispatcher's Generation-keyed cache of its compiled Resolver in
// internal/dispatcher.
type Resolver struct {
	matchers []matcher
}

// Compile builds a Resolver from routes, preserving their declaration order
// (spec.md I5: "the first match in order wins").
func Compile(routes []catalogpkg.Route) *Resolver {
	matchers := make([]matcher, 0, len(routes))
	for _, r := range routes {
		matchers = append(matchers, compileOne(r))
	}
	return &Resolver{matchers: matchers}
}

func compileOne(r catalogpkg.Route) matcher {
	// "$$$ appears at most once; if it appears more, only the first is
	// treated as wildcard, the rest are literal" (spec.md §4.3).
	if idx := strings.Index(r.Path, wildcardToken); idx >= 0 {
		return matcher{
			route:    r,
			wildcard: true,
			prefix:   r.Path[:idx],
			suffix:   r.Path[idx+len(wildcardToken):],
		}
	}
	return matcher{route: r, pattern: r.Path}
}

// Lookup returns the first route (in declaration order) whose method
// matches and whose pattern matches uri per spec.md §4.3, or ok=false.
func (res *Resolver) Lookup(method catalogpkg.Method, uri string) (Match, bool) {
	for _, m := range res.matchers {
		if m.route.Method != method {
			continue
		}
		if m.wildcard {
			if param, ok := matchWildcard(uri, m.prefix, m.suffix); ok {
				return Match{Route: m.route, Parameter: param, HasParam: true}, true
			}
			continue
		}
		// Non-wildcard branch: suffix match against the URI, not exact
		// match. This is spec.md §4.3's documented "known fragility" —
		// preserved deliberately so existing catalogs keep working; it is
		// NOT a design goal and should not be "fixed" to an exact match.
		if strings.HasSuffix(uri, m.pattern) {
			return Match{Route: m.route}, true
		}
	}
	return Match{}, false
}

// matchWildcard implements spec.md §4.3 step 1: uri must start with prefix
// and end with suffix, with enough length left over for both to fit without
// overlapping; the captured parameter is whatever sits between them.
func matchWildcard(uri, prefix, suffix string) (string, bool) {
	if len(uri) < len(prefix)+len(suffix) {
		return "", false
	}
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return "", false
	}
	param := uri[len(prefix) : len(uri)-len(suffix)]
	return param, true
}
