package catalogpkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/emilycares/moxy-go/internal/logging"
)

// ErrDuplicateRoute is returned by Insert when I1 (method, path_pattern) uniqueness would be violated.
var ErrDuplicateRoute = errors.New("catalog: duplicate (method, path) route")

// RouteNotFoundError is returned by operations that must locate an existing
// route, in the teacher's error-struct style (_examples/worldiety-vfs/errors.go's
// *FooError/Unwrap pattern) rather than a flat sentinel.
type RouteNotFoundError struct {
	Method Method
	Path   string
	Cause  error
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("catalog: route not found: %s %s", e.Method, e.Path)
}

// Unwrap returns nil or the cause.
func (e *RouteNotFoundError) Unwrap() error {
	return e.Cause
}

// Configuration is the external, serializable shape of the catalog (spec.md §3, §6).
type Configuration struct {
	Host      string    `json:"host"`
	Remote    *string   `json:"remote,omitempty"`
	BuildMode *BuildMode `json:"build_mode,omitempty"`
	Routes    []Route   `json:"routes"`
}

// catalogState is the immutable value swapped atomically on every mutation.
type catalogState struct {
	host      string
	remote    *string
	buildMode BuildMode
	routes    []Route
}

// Catalog is the in-memory routing table plus its on-disk mirror. It is safe
// for concurrent use: Snapshot/Find never block, mutating methods serialize
// through an internal mutex (spec.md §5).
type Catalog struct {
	state      atomic.Pointer[catalogState]
	generation atomic.Uint64 // bumped on every structural mutation; lets readers cheaply detect staleness
	mu         sync.Mutex    // serializes writers only; readers never take it
	path       string
	log        *zerolog.Logger
}

// Generation returns a counter bumped on every Insert/RemoveAt/Remove/
// RewriteResource. A caller that caches a derived structure (the Resolver's
// compiled matcher table) can key its cache on this value instead of
// recompiling on every request.
func (c *Catalog) Generation() uint64 {
	return c.generation.Load()
}

const defaultHost = "127.0.0.1:8080"

// NewDefault returns a fresh, empty, Write-mode catalog — the bootstrap
// content written the first time moxy runs against a missing catalog file
// (spec.md §6; build_mode=Write chosen per SPEC_FULL.md §5 so a fresh
// install records immediately without extra configuration).
func NewDefault(path string) *Catalog {
	c := &Catalog{path: path, log: logging.New("catalog")}
	c.state.Store(&catalogState{host: defaultHost, buildMode: Write})
	return c
}

// Load reads the catalog file at path. If it is absent, a default catalog
// is created and written (spec.md §6). If it exists but fails to parse, a
// default catalog is used in memory and the file is left untouched so a
// human can recover it (spec.md §6, §7).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c := NewDefault(path)
		if perr := c.Persist(); perr != nil {
			return nil, fmt.Errorf("catalog: writing default catalog: %w", perr)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		log := logging.New("catalog")
		log.Error().Err(err).Str("path", path).Msg("catalog file failed to parse, falling back to in-memory default")
		c := NewDefault(path)
		return c, nil
	}

	mode := Write
	if cfg.BuildMode != nil {
		mode = *cfg.BuildMode
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	c := &Catalog{path: path, log: logging.New("catalog")}
	c.state.Store(&catalogState{
		host:      host,
		remote:    cfg.Remote,
		buildMode: mode,
		routes:    cfg.Routes,
	})
	return c, nil
}

// Snapshot returns a cheap, read-only clone of the current configuration
// (spec.md §4.1 "snapshot()"). Callers that need to mutate a Route must go
// through Catalog's mutating methods, not edit the snapshot in place.
func (c *Catalog) Snapshot() Configuration {
	st := c.state.Load()
	routes := make([]Route, len(st.routes))
	for i, r := range st.routes {
		routes[i] = r.Clone()
	}
	var mode *BuildMode
	if st.buildMode != "" {
		m := st.buildMode
		mode = &m
	}
	return Configuration{Host: st.host, Remote: st.remote, BuildMode: mode, Routes: routes}
}

// BuildMode reports the current build mode without cloning the whole route list.
func (c *Catalog) BuildMode() BuildMode {
	return c.state.Load().buildMode
}

// ApplyStartupOverrides overwrites host/remote/build_mode with CLI/env
// values resolved by internal/config, before the listener starts. These
// three fields are catalog-resident (spec.md §3) but process configuration
// is allowed to override them at boot (SPEC_FULL.md §2.3); empty strings
// leave the loaded value untouched.
func (c *Catalog) ApplyStartupOverrides(host, remote, buildMode string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	next := cloneState(cur)
	if host != "" {
		next.host = host
	}
	if remote != "" {
		r := remote
		next.remote = &r
	}
	if buildMode != "" {
		next.buildMode = BuildMode(buildMode)
	}
	c.state.Store(next)
}

// Remote reports the configured upstream base URL, if any.
func (c *Catalog) Remote() (string, bool) {
	st := c.state.Load()
	if st.remote == nil {
		return "", false
	}
	return *st.remote, true
}

// Host reports the configured listen address.
func (c *Catalog) Host() string {
	return c.state.Load().host
}

// Find performs the exact-match lookup spec.md §4.1 reserves for
// duplicate-suppression: (path_pattern == path, method). It is NOT used for
// dispatch — see internal/resolver for that.
func (c *Catalog) Find(method Method, path string) (Route, bool) {
	st := c.state.Load()
	for _, r := range st.routes {
		if r.Method == method && r.Path == path {
			return r.Clone(), true
		}
	}
	return Route{}, false
}

// Routes returns the current route list without cloning each route's
// headers/messages — callers that only read Method/Path/Resource (like the
// Resolver, which recompiles its matcher table from this) may use this
// cheaper accessor; it must not be mutated.
func (c *Catalog) Routes() []Route {
	return c.state.Load().routes
}

// Insert appends route, enforcing I1. Callers that already called Find as a
// race-check (Builder's duplicate suppression, spec.md §4.6) still get a
// safe, atomic double-check here for free.
func (c *Catalog) Insert(route Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	for _, r := range cur.routes {
		if r.Method == route.Method && r.Path == route.Path {
			return ErrDuplicateRoute
		}
	}
	next := cloneState(cur)
	next.routes = append(next.routes, route)
	c.state.Store(next)
	c.generation.Add(1)
	return nil
}

// RemoveAt removes the route currently at index idx (spec.md §4.1; used by
// the Dispatcher when a route's backing file has vanished, spec.md §4.6).
func (c *Catalog) RemoveAt(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if idx < 0 || idx >= len(cur.routes) {
		return &RouteNotFoundError{Path: fmt.Sprintf("index %d (%d routes)", idx, len(cur.routes))}
	}
	next := cloneState(cur)
	next.routes = append(next.routes[:idx], next.routes[idx+1:]...)
	c.state.Store(next)
	c.generation.Add(1)
	return nil
}

// Remove removes the unique route identified by key, if present.
func (c *Catalog) Remove(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	idx := -1
	for i, r := range cur.routes {
		if r.Method == key.Method && r.Path == key.Path {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &RouteNotFoundError{Method: key.Method, Path: key.Path}
	}
	next := cloneState(cur)
	next.routes = append(next.routes[:idx], next.routes[idx+1:]...)
	c.state.Store(next)
	c.generation.Add(1)
	return nil
}

// RewriteResource updates the resource field of the route whose resource
// currently equals oldResource, to newResource (spec.md §4.1
// "find_by_resource_mut", driven by Store's file-to-directory collision
// repair, spec.md §4.2). An empty method matches routes of any method;
// every matching route is rewritten.
func (c *Catalog) RewriteResource(method Method, oldResource, newResource string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	found := false
	routes := make([]Route, len(cur.routes))
	for i, r := range cur.routes {
		routes[i] = r
		if r.Resource != nil && *r.Resource == oldResource && (method == "" || r.Method == method) {
			rewritten := r.Clone()
			nr := newResource
			rewritten.Resource = &nr
			routes[i] = rewritten
			found = true
		}
	}
	if !found {
		return &RouteNotFoundError{Method: method, Path: oldResource}
	}
	next := cloneState(cur)
	next.routes = routes
	c.state.Store(next)
	c.generation.Add(1)
	return nil
}

// FindByResource returns the route (and its index) whose Resource equals resource, regardless of method.
func (c *Catalog) FindByResource(resource string) (Route, int, bool) {
	st := c.state.Load()
	for i, r := range st.routes {
		if r.Resource != nil && *r.Resource == resource {
			return r.Clone(), i, true
		}
	}
	return Route{}, -1, false
}

func cloneState(cur *catalogState) *catalogState {
	return &catalogState{
		host:      cur.host,
		remote:    cur.remote,
		buildMode: cur.buildMode,
		routes:    append([]Route(nil), cur.routes...),
	}
}

// Persist serializes the catalog to its canonical file, atomically
// (write-to-temp + rename, spec.md §9's recommendation over the source's
// in-place rewrite). Persistence errors propagate to the caller; the
// in-memory mutation that preceded the call is NOT rolled back on failure
// (spec.md §4.1, acknowledged open question — see DESIGN.md).
func (c *Catalog) Persist() error {
	cfg := c.Snapshot()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: marshal: %w", err)
	}

	t, err := renameio.NewPendingFile(c.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("catalog: open pending file: %w", err)
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("catalog: replace: %w", err)
	}
	return nil
}
