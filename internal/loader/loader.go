// Package loader reads a stored response body off disk for a matched route,
// substituting the captured wildcard parameter into the resource path
// (spec.md §4.4), with a small hot-body cache on top.
package loader

import (
	"errors"
	"os"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
)

// ErrNoBody is returned for a route with no resource (spec.md §4.4: "no body").
var ErrNoBody = errors.New("loader: route has no resource")

const wildcardToken = "$$$"

// defaultCacheCost is the byte budget for the hot-body cache (SPEC_FULL.md §4.4).
const defaultCacheCost = 64 << 20

// Loader reads route bodies, substituting wildcard parameters into the
// resource path, and caches recently read bodies keyed by the resolved path.
type Loader struct {
	cache *ristretto.Cache
}

// New builds a Loader with the default cache budget.
func New() (*Loader, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     defaultCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Loader{cache: c}, nil
}

// Load returns the raw bytes for route, or ErrNoBody if route carries no
// resource, or the underlying filesystem error (including "not found",
// which the Dispatcher treats as a stale-route signal, spec.md §4.8).
func (l *Loader) Load(route catalogpkg.Route, param string, hasParam bool) ([]byte, error) {
	if route.Resource == nil {
		return nil, ErrNoBody
	}

	resolved := *route.Resource
	if hasParam {
		resolved = strings.Replace(resolved, wildcardToken, param, 1)
	}

	if v, ok := l.cache.Get(resolved); ok {
		// a body removed or moved since it was cached must still read as stale
		if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
			return v.([]byte), nil
		}
		l.cache.Del(resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}

	l.cache.Set(resolved, data, int64(len(data)))
	return data, nil
}

// Invalidate removes a cached body for resolved (no-op if absent). Nothing
// in this module calls it: Store writes and collision-repair moves do not
// evict cache entries.
func (l *Loader) Invalidate(resolved string) {
	l.cache.Del(resolved)
}
