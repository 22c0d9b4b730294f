// Package builder orchestrates a catalog miss: fetch from upstream,
// persist the body, record a new route, and answer the client (spec.md
// §4.6). It is the one component that stitches UpstreamClient, Store, and
// Catalog together under build_mode == Write.
package builder

import (
	"github.com/rs/zerolog"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/logging"
	"github.com/emilycares/moxy-go/internal/store"
	"github.com/emilycares/moxy-go/internal/upstream"
)

// Fetcher is the subset of upstream.Client Builder needs; a narrow
// interface so tests can substitute a fake without a real listener.
type Fetcher interface {
	FetchHTTP(method, url string, headers catalogpkg.Headers, body []byte) (upstream.Response, bool)
}

// Result is what the Dispatcher hands back to the client after a build
// attempt. Found is false whenever the Dispatcher must answer 404.
type Result struct {
	Found   bool
	Status  int
	Headers catalogpkg.Headers
	Body    []byte
}

var notFound = Result{Found: false}

// Builder handles an HTTP catalog miss under build_mode == Write.
type Builder struct {
	catalog  *catalogpkg.Catalog
	store    *store.Store
	upstream Fetcher
	log      *zerolog.Logger
}

// New builds a Builder wired to catalog, store, and an upstream fetcher.
func New(catalog *catalogpkg.Catalog, st *store.Store, up Fetcher) *Builder {
	return &Builder{catalog: catalog, store: st, upstream: up, log: logging.New("builder")}
}

// Build handles one miss for (method, uri): fetch from the configured
// remote, persist on success, and insert+persist a new Route — unless a
// concurrent caller already won the race (spec.md §4.6 duplicate
// suppression). It is a no-op under build_mode == Read; callers should
// check BuildMode before calling Build, but Build itself also honors it so
// it is always safe to call directly.
func (b *Builder) Build(method catalogpkg.Method, uri string) Result {
	if b.catalog.BuildMode() != catalogpkg.Write {
		return notFound
	}

	remote, ok := b.catalog.Remote()
	if !ok || remote == "" {
		return notFound
	}

	resp, ok := b.upstream.FetchHTTP(string(method), remote+uri, nil, nil)
	if !ok {
		return notFound
	}

	result := Result{Found: true, Status: resp.Status, Headers: resp.Headers, Body: resp.Body}

	if resp.Status == 404 {
		return result
	}

	if _, exists := b.catalog.Find(method, uri); exists {
		// a concurrent caller already recorded this route; don't double-save.
		return result
	}

	route := catalogpkg.Route{Method: method, Path: uri}
	if len(resp.Body) > 0 {
		contentType := resp.Headers.Get("Content-Type")
		resource, rewrites, err := b.store.Save(uri, contentType, resp.Body)
		if err != nil {
			b.log.Error().Err(err).Str("uri", uri).Msg("persisting response body failed, serving without recording")
			return result
		}
		for _, rw := range rewrites {
			if rerr := b.catalog.RewriteResource("", rw.Old, rw.New); rerr != nil {
				b.log.Error().Err(rerr).Str("old", rw.Old).Str("new", rw.New).Msg("applying collision-repair rewrite failed")
			}
		}
		route.Resource = &resource
	}

	if len(resp.Headers) > 0 || resp.Status != 200 {
		route.Metadata = &catalogpkg.Metadata{Code: resp.Status, Header: resp.Headers}
	}

	if err := b.catalog.Insert(route); err != nil {
		b.log.Debug().Err(err).Str("uri", uri).Msg("route already present, skipping insert")
		return result
	}
	if err := b.catalog.Persist(); err != nil {
		b.log.Error().Err(err).Msg("persisting catalog after insert failed")
	}

	return result
}
