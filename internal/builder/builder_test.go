package builder

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/store"
	"github.com/emilycares/moxy-go/internal/upstream"
)

type fakeFetcher struct {
	resp upstream.Response
	ok   bool
	uris []string
}

func (f *fakeFetcher) FetchHTTP(method, url string, headers catalogpkg.Headers, body []byte) (upstream.Response, bool) {
	f.uris = append(f.uris, url)
	return f.resp, f.ok
}

// newCatalogWithRemote writes a catalog file declaring remote and loads it,
// so the catalog under test takes its remote from the on-disk
// Configuration (spec.md §6).
func newCatalogWithRemote(t *testing.T, dir, remote string) *catalogpkg.Catalog {
	t.Helper()
	path := dir + "/moxy.json"
	cfg := catalogpkg.Configuration{Host: "127.0.0.1:8080", Remote: &remote, Routes: []catalogpkg.Route{}}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := catalogpkg.Load(path)
	require.NoError(t, err)
	return c
}

func TestBuildDefaultCatalogStartsInWriteMode(t *testing.T) {
	c := catalogpkg.NewDefault(t.TempDir() + "/moxy.json")
	assert.Equal(t, catalogpkg.Write, c.BuildMode())
}

func TestBuildNoRemoteRespondsNotFound(t *testing.T) {
	c := catalogpkg.NewDefault(t.TempDir() + "/moxy.json")
	s := store.New(t.TempDir())
	f := &fakeFetcher{}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/widgets")

	assert.False(t, result.Found)
	assert.Empty(t, f.uris, "must not call upstream when remote is unset")
}

func TestBuildPersistsAndInsertsRoute(t *testing.T) {
	dbDir := t.TempDir()
	c := newCatalogWithRemote(t, dbDir, "http://upstream.example")

	s := store.New(dbDir)
	var headers catalogpkg.Headers
	headers.Add("Content-Type", "application/json")
	f := &fakeFetcher{ok: true, resp: upstream.Response{Status: 200, Headers: headers, Body: []byte(`{"id":1}`)}}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/widgets/1.json")

	require.True(t, result.Found)
	assert.Equal(t, 200, result.Status)
	assert.Equal(t, []string{"http://upstream.example/widgets/1.json"}, f.uris)

	route, ok := c.Find(catalogpkg.GET, "/widgets/1.json")
	require.True(t, ok)
	require.NotNil(t, route.Resource)
	assert.FileExists(t, *route.Resource)
}

func TestBuildUpstream404DoesNotRecord(t *testing.T) {
	dbDir := t.TempDir()
	c := newCatalogWithRemote(t, dbDir, "http://upstream.example")
	s := store.New(dbDir)
	f := &fakeFetcher{ok: true, resp: upstream.Response{Status: 404}}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/missing")

	assert.True(t, result.Found)
	assert.Equal(t, 404, result.Status)
	_, ok := c.Find(catalogpkg.GET, "/missing")
	assert.False(t, ok)
}

func TestBuildUpstreamUnreachableRespondsNotFound(t *testing.T) {
	dbDir := t.TempDir()
	c := newCatalogWithRemote(t, dbDir, "http://upstream.example")
	s := store.New(dbDir)
	f := &fakeFetcher{ok: false}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/widgets")
	assert.False(t, result.Found)
}

func TestBuildDuplicateSuppression(t *testing.T) {
	dbDir := t.TempDir()
	c := newCatalogWithRemote(t, dbDir, "http://upstream.example")
	require.NoError(t, c.Insert(catalogpkg.Route{Method: catalogpkg.GET, Path: "/widgets"}))

	s := store.New(dbDir)
	f := &fakeFetcher{ok: true, resp: upstream.Response{Status: 200, Body: []byte("body")}}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/widgets")

	require.True(t, result.Found)
	routes := c.Routes()
	assert.Len(t, routes, 1, "a concurrent caller's route must not be duplicated")
}

func TestBuildEmptyBodyRecordsRouteWithoutResource(t *testing.T) {
	dbDir := t.TempDir()
	c := newCatalogWithRemote(t, dbDir, "http://upstream.example")
	s := store.New(dbDir)
	f := &fakeFetcher{ok: true, resp: upstream.Response{Status: 204}}

	b := New(c, s, f)
	result := b.Build(catalogpkg.GET, "/ping")

	require.True(t, result.Found)
	route, ok := c.Find(catalogpkg.GET, "/ping")
	require.True(t, ok)
	assert.Nil(t, route.Resource)
}
