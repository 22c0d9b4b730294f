// Package dispatcher wires Resolver, Loader, Builder, and WsEngine into the
// per-request control flow spec.md §4.8 describes: resolve a hit, fall
// through to Builder on a miss or a stale file, or hand a WebSocket upgrade
// to WsEngine.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/emilycares/moxy-go/internal/builder"
	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/contenttype"
	"github.com/emilycares/moxy-go/internal/loader"
	"github.com/emilycares/moxy-go/internal/logging"
	"github.com/emilycares/moxy-go/internal/resolver"
	"github.com/emilycares/moxy-go/internal/store"
	"github.com/emilycares/moxy-go/internal/upstream"
	"github.com/emilycares/moxy-go/internal/wsengine"
)

// Dispatcher holds every component a request needs and serves HTTP per
// spec.md §4.8.
type Dispatcher struct {
	catalog   *catalogpkg.Catalog
	loader    *loader.Loader
	builder   *builder.Builder
	store     *store.Store
	upstream  *upstream.Client
	engine    *wsengine.Engine
	strictWSS bool

	cached atomic.Pointer[cachedResolver]

	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

type cachedResolver struct {
	generation uint64
	res        *resolver.Resolver
}

// New wires a Dispatcher. strictWSS corrects the https->ws quirk (spec.md
// §6, §9) to https->wss instead of preserving it.
func New(catalog *catalogpkg.Catalog, ld *loader.Loader, b *builder.Builder, st *store.Store, up *upstream.Client, strictWSS bool) *Dispatcher {
	return &Dispatcher{
		catalog:   catalog,
		loader:    ld,
		builder:   b,
		store:     st,
		upstream:  up,
		engine:    wsengine.New(),
		strictWSS: strictWSS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
			// A failed handshake must look like a cache miss to the client
			// (spec.md §4.8, §7: "WebSocket errors (upgrade failure...):
			// client sees a 404"), not gorilla's default 400/405/426.
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		log: logging.New("dispatcher"),
	}
}

// Router builds the outer chi.Mux: request ID, panic recovery, and an
// access-log line per request, in front of the single catch-all handler
// (SPEC_FULL.md §4.8).
func (d *Dispatcher) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(*d.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("uri", r.URL.RequestURI()).
			Int("status", status).
			Dur("duration", duration).
			Msg("request handled")
	}))
	r.NotFound(d.serveHTTP)
	r.MethodNotAllowed(d.serveHTTP)
	r.HandleFunc("/*", d.serveHTTP)
	return r
}

func (d *Dispatcher) resolver() *resolver.Resolver {
	gen := d.catalog.Generation()
	if c := d.cached.Load(); c != nil && c.generation == gen {
		return c.res
	}
	res := resolver.Compile(d.catalog.Routes())
	d.cached.Store(&cachedResolver{generation: gen, res: res})
	return res
}

func (d *Dispatcher) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		d.serveWS(w, r)
		return
	}

	uri := r.URL.RequestURI()
	method := catalogpkg.Method(r.Method)

	match, ok := d.resolver().Lookup(method, uri)
	if !ok {
		d.build(w, method, uri)
		return
	}

	body, err := d.loader.Load(match.Route, match.Parameter, match.HasParam)
	switch {
	case errors.Is(err, loader.ErrNoBody):
		d.writeRoute(w, match.Route, nil)
	case err != nil:
		// Stale route: its backing file vanished since it was recorded
		// (spec.md §4.6 "a hit whose backing file is missing").
		_ = d.catalog.Remove(catalogpkg.Key{Method: match.Route.Method, Path: match.Route.Path})
		d.build(w, method, uri)
	default:
		d.writeRoute(w, match.Route, body)
	}
}

func (d *Dispatcher) build(w http.ResponseWriter, method catalogpkg.Method, uri string) {
	if d.catalog.BuildMode() != catalogpkg.Write {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	result := d.builder.Build(method, uri)
	if !result.Found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	for _, h := range result.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

// writeRoute assembles the client response for a catalog hit (spec.md §4.8).
func (d *Dispatcher) writeRoute(w http.ResponseWriter, route catalogpkg.Route, body []byte) {
	status := http.StatusOK
	var headers catalogpkg.Headers
	if route.Metadata != nil {
		if route.Metadata.Code != 0 {
			status = route.Metadata.Code
		}
		headers = route.Metadata.Header
	}

	for _, h := range headers {
		w.Header().Add(h.Name, h.Value)
	}
	if w.Header().Get("Content-Type") == "" && route.Resource != nil {
		w.Header().Set("Content-Type", contenttype.TypeForPath(*route.Resource))
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// serveWS handles a WebSocket upgrade: replay on a hit, record on a miss
// under build_mode == Write (spec.md §4.7, §4.8).
func (d *Dispatcher) serveWS(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()
	sessionID := uuid.NewString()
	log := d.log.With().Str("ws_session", sessionID).Str("uri", uri).Logger()

	match, hit := d.resolver().Lookup(catalogpkg.WS, uri)

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if hit {
		log.Trace().Msg("replaying recorded websocket session")
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		if err := d.engine.Replay(ctx, conn, match.Route.Messages); err != nil {
			log.Trace().Err(err).Msg("replay ended")
		}
		return
	}

	if d.catalog.BuildMode() != catalogpkg.Write {
		return
	}
	remote, ok := d.catalog.Remote()
	if !ok || remote == "" {
		return
	}

	wsURL := upstream.RewriteScheme(remote+uri, d.strictWSS)
	upstreamConn, ok := d.upstream.ConnectWS(wsURL, nil)
	if !ok {
		log.Debug().Msg("upstream websocket connect failed")
		return
	}
	defer upstreamConn.Close()

	if _, exists := d.catalog.Find(catalogpkg.WS, uri); exists {
		// lost the race to another recorder; just tunnel without recording.
		_ = d.engine.Record(r.Context(), conn, upstreamConn)
		return
	}

	log.Trace().Msg("recording websocket session")
	recorded := d.engine.Record(r.Context(), conn, upstreamConn)
	messages, rewrites, err := d.store.SaveWsMessages(uri, recorded)
	if err != nil {
		log.Error().Err(err).Msg("persisting recorded websocket session failed")
		return
	}
	for _, rw := range rewrites {
		if rerr := d.catalog.RewriteResource("", rw.Old, rw.New); rerr != nil {
			log.Error().Err(rerr).Str("old", rw.Old).Str("new", rw.New).Msg("applying collision-repair rewrite failed")
		}
	}

	route := catalogpkg.Route{Method: catalogpkg.WS, Path: uri, Messages: messages}
	if err := d.catalog.Insert(route); err != nil {
		log.Debug().Err(err).Msg("websocket route already present, skipping insert")
		return
	}
	if err := d.catalog.Persist(); err != nil {
		log.Error().Err(err).Msg("persisting catalog after websocket recording failed")
	}
}
