package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSite serves a small site:
//
//	/            -> links to /a, /items?id=1, /items?id=2, /missing, /api/users
//	/a           -> links back to /
//	/items       -> one template regardless of query (variants share structure)
//	/missing     -> 404
//	/api/users   -> JSON
func newTestSite() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
			<a href="/a">A</a>
			<a href="/items?id=1">Item 1</a>
			<a href="/items?id=2">Item 2</a>
			<a href="/missing">Gone</a>
			<a href="/api/users">API</a>
		</body></html>`)
	})

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>A</title></head><body><a href="/">Home</a></body></html>`)
	})

	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Item %s</title></head><body>
			<p>Details for item %s</p>
		</body></html>`, r.URL.Query().Get("id"), r.URL.Query().Get("id"))
	})

	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1}]`)
	})

	return httptest.NewServer(mux)
}

func newTestCrawler(t *testing.T, target string, opts ...Option) *Crawler {
	t.Helper()
	base := []Option{
		WithTarget(target),
		WithMaxDepth(3),
		WithRequestDelay(0),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestCrawler_Run(t *testing.T) {
	srv := newTestSite()
	defer srv.Close()

	c := newTestCrawler(t, srv.URL+"/")
	defer c.Close()

	siteMap, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, siteMap)

	root := srv.URL + "/"
	require.Contains(t, siteMap.Endpoints, root)
	require.Contains(t, siteMap.Endpoints, srv.URL+"/a")
	require.Contains(t, siteMap.Endpoints, srv.URL+"/items")

	// Both item variants share one structure; the duplicate is dropped.
	assert.Len(t, siteMap.Endpoints[srv.URL+"/items"].Variants, 1)

	assert.Contains(t, siteMap.Errors, srv.URL+"/missing")
	require.Len(t, siteMap.APIEndpoints, 1)
	assert.Equal(t, srv.URL+"/api/users", siteMap.APIEndpoints[0].URL)

	assert.Equal(t, 0, siteMap.Endpoints[root].Depth)
	assert.Equal(t, 1, siteMap.Endpoints[srv.URL+"/a"].Depth)
	assert.Equal(t, 1, siteMap.Endpoints[srv.URL+"/items"].Depth)
}

func TestCrawler_MaxDepthZero(t *testing.T) {
	srv := newTestSite()
	defer srv.Close()

	c := newTestCrawler(t, srv.URL+"/", WithMaxDepth(0))
	defer c.Close()

	siteMap, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, siteMap.Endpoints, 1, "depth 0 crawls only the root")
	assert.Contains(t, siteMap.Endpoints, srv.URL+"/")
}

func TestCrawler_VisitsEachURLOnce(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		// Two pages linking to each other; revisits must not happen.
		fmt.Fprint(w, `<html><head><title>P</title></head><body><a href="/other">x</a></body></html>`)
	})
	mux.HandleFunc("/other", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Q</title></head><body><a href="/">back</a><a href="/other">self</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestCrawler(t, srv.URL+"/")
	defer c.Close()

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load(), "each URL is fetched exactly once")
}

func TestCrawler_CancelledContext(t *testing.T) {
	srv := newTestSite()
	defer srv.Close()

	c := newTestCrawler(t, srv.URL+"/")
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx)
	assert.Error(t, err)
}

func TestCrawler_InvalidTarget(t *testing.T) {
	_, err := New(WithTarget("not a url"))
	assert.Error(t, err)
}

func TestCrawler_StoresVariantsUnderCleanURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>R</title></head><body>
			<a href="/p?v=1">one</a><a href="/p?v=2">two</a>
		</body></html>`)
	})
	mux.HandleFunc("/p", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("v") == "2" {
			// Different structure: an extra form.
			fmt.Fprint(w, `<html><head><title>P2</title></head><body>
				<form action="/s" method="post"><input name="q"></form>
			</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><head><title>P1</title></head><body><p>plain</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestCrawler(t, srv.URL+"/")
	defer c.Close()

	siteMap, err := c.Run(context.Background())
	require.NoError(t, err)

	endpoint := siteMap.Endpoints[srv.URL+"/p"]
	require.NotNil(t, endpoint)
	assert.Len(t, endpoint.Variants, 2,
		"first variant stored under the stripped URL, structurally new ones under their full URL")
}
