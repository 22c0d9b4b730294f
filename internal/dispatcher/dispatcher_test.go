package dispatcher

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilycares/moxy-go/internal/builder"
	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/loader"
	"github.com/emilycares/moxy-go/internal/store"
	"github.com/emilycares/moxy-go/internal/upstream"
)

func newDispatcher(t *testing.T, dbDir string, catalog *catalogpkg.Catalog) *Dispatcher {
	t.Helper()
	ld, err := loader.New()
	require.NoError(t, err)
	st := store.New(dbDir)
	up := upstream.New(false)
	b := builder.New(catalog, st, up)
	return New(catalog, ld, b, st, up, false)
}

func TestServeHTTPStaticHitFallsBackContentType(t *testing.T) {
	dbDir := t.TempDir()
	st := store.New(dbDir)
	resource, _, err := st.Save("/greeting", "text/plain", []byte("hi\n"))
	require.NoError(t, err)

	catalogPath := dbDir + "/moxy.json"
	cfg := catalogpkg.Configuration{
		Host:   "127.0.0.1:8080",
		Routes: []catalogpkg.Route{{Method: catalogpkg.GET, Path: "/greeting", Resource: &resource}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catalogPath, data, 0o644))
	catalog, err := catalogpkg.Load(catalogPath)
	require.NoError(t, err)

	d := newDispatcher(t, dbDir, catalog)

	req := httptest.NewRequest(http.MethodGet, "/greeting", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi\n", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestServeHTTPMissBuildsFetchesAndPersists(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstreamSrv.Close()

	dbDir := t.TempDir()
	catalogPath := dbDir + "/moxy.json"
	remote := upstreamSrv.URL
	cfg := catalogpkg.Configuration{Host: "127.0.0.1:8080", Remote: &remote, Routes: []catalogpkg.Route{}}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catalogPath, data, 0o644))
	catalog, err := catalogpkg.Load(catalogPath)
	require.NoError(t, err)

	d := newDispatcher(t, dbDir, catalog)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	route, ok := catalog.Find(catalogpkg.POST, "/login")
	require.True(t, ok)
	require.NotNil(t, route.Resource)
	assert.FileExists(t, *route.Resource)

	// second request is served from the catalog, no further upstream hits needed.
	req2 := httptest.NewRequest(http.MethodPost, "/login", nil)
	rec2 := httptest.NewRecorder()
	d.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusCreated, rec2.Code)
	assert.JSONEq(t, `{"ok":true}`, rec2.Body.String())
}

func TestServeHTTPMissUnderReadModeReturns404(t *testing.T) {
	dbDir := t.TempDir()
	catalogPath := dbDir + "/moxy.json"
	readMode := catalogpkg.Read
	cfg := catalogpkg.Configuration{Host: "127.0.0.1:8080", BuildMode: &readMode, Routes: []catalogpkg.Route{}}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catalogPath, data, 0o644))
	catalog, err := catalogpkg.Load(catalogPath)
	require.NoError(t, err)

	d := newDispatcher(t, dbDir, catalog)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeWSUpgradeFailureLooksLikeAMiss(t *testing.T) {
	dbDir := t.TempDir()
	catalogPath := dbDir + "/moxy.json"
	cfg := catalogpkg.Configuration{Host: "127.0.0.1:8080", Routes: []catalogpkg.Route{}}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catalogPath, data, 0o644))
	catalog, err := catalogpkg.Load(catalogPath)
	require.NoError(t, err)

	d := newDispatcher(t, dbDir, catalog)

	// Connection/Upgrade headers mark this as a WS upgrade attempt, but the
	// required Sec-WebSocket-Key/Version are missing, so gorilla's Upgrade
	// fails the handshake (spec.md §4.8, §7).
	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPStaleRouteRebuildsFromUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))
	defer upstreamSrv.Close()

	dbDir := t.TempDir()
	catalogPath := dbDir + "/moxy.json"
	remote := upstreamSrv.URL
	staleResource := dbDir + "/gone.txt"
	cfg := catalogpkg.Configuration{
		Host:   "127.0.0.1:8080",
		Remote: &remote,
		Routes: []catalogpkg.Route{{Method: catalogpkg.GET, Path: "/stale", Resource: &staleResource}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catalogPath, data, 0o644))
	catalog, err := catalogpkg.Load(catalogPath)
	require.NoError(t, err)

	d := newDispatcher(t, dbDir, catalog)

	req := httptest.NewRequest(http.MethodGet, "/stale", nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Body.String())
}
