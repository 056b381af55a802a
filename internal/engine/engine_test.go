package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailDrugie/se-attack-modeling/internal/store"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil), st
}

// newQuietSite serves one page and 404s everything else, so the
// configuration audit finds nothing.
func newQuietSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><p>hello</p></body></html>`)
	})
	return httptest.NewServer(mux)
}

func fastConfig(target string) *scanner.Config {
	cfg := scanner.DefaultConfig()
	cfg.Target = target
	cfg.MaxDepth = 1
	cfg.Fetcher.MinDelay = 0
	return cfg
}

func TestEngine_RunWebScan(t *testing.T) {
	srv := newQuietSite()
	defer srv.Close()

	e, st := newTestEngine(t)
	record, err := st.CreateScan(srv.URL+"/", "")
	require.NoError(t, err)

	require.NoError(t, e.RunWebScan(context.Background(), record.ID, fastConfig(srv.URL+"/")))

	loaded, err := st.GetScan(record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)
	assert.WithinDuration(t, time.Now(), *loaded.FinishedAt, time.Minute)

	summary := e.Summary()
	assert.Equal(t, record.ID, summary.ScanID)
	assert.Equal(t, "completed", summary.Status)
	assert.GreaterOrEqual(t, summary.Endpoints, 1)
	assert.Len(t, summary.Analyzers, 5, "all web analyzers report")
}

func TestEngine_RunWebScan_MissingRecordAborts(t *testing.T) {
	e, st := newTestEngine(t)

	err := e.RunWebScan(context.Background(), 999, nil)
	assert.ErrorIs(t, err, store.ErrScanNotFound)

	scans, err := st.ListScans()
	require.NoError(t, err)
	assert.Empty(t, scans, "no record is created or transitioned")
}

func TestEngine_RunWebScan_FailureMarksFailed(t *testing.T) {
	e, st := newTestEngine(t)

	// Closed port: the crawl cannot reach the target.
	record, err := st.CreateScan("http://127.0.0.1:1/", "")
	require.NoError(t, err)

	err = e.RunWebScan(context.Background(), record.ID, fastConfig("http://127.0.0.1:1/"))
	require.Error(t, err)

	loaded, err := st.GetScan(record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, loaded.Status)
	assert.NotEmpty(t, loaded.Error)
	assert.NotNil(t, loaded.FinishedAt)
}

func writeVulnerableZip(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("app/main.py")
	require.NoError(t, err)
	_, err = w.Write([]byte("import os\nos.system(cmd)\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "src.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestEngine_RunSASTScan(t *testing.T) {
	e, st := newTestEngine(t)

	archive := writeVulnerableZip(t)
	record, err := st.CreateScan("", archive)
	require.NoError(t, err)

	require.NoError(t, e.RunSASTScan(context.Background(), record.ID))

	loaded, err := st.GetScan(record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, loaded.Status)

	vulns, err := st.ListVulnerabilities(record.ID)
	require.NoError(t, err)
	require.NotEmpty(t, vulns)
	assert.Equal(t, "SAST: Command injection via os.system", vulns[0].Name)

	summary := e.Summary()
	require.Len(t, summary.Analyzers, 1)
	assert.Equal(t, "sast", summary.Analyzers[0].Name)
	assert.Equal(t, 1, summary.Vulnerabilities)
}

func TestEngine_RunSASTScan_BadArchiveMarksFailed(t *testing.T) {
	e, st := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "bogus.zip")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))

	record, err := st.CreateScan("", path)
	require.NoError(t, err)

	require.Error(t, e.RunSASTScan(context.Background(), record.ID))

	loaded, err := st.GetScan(record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, loaded.Status)
}

func TestEngine_RunWebScan_DisabledAnalyzers(t *testing.T) {
	srv := newQuietSite()
	defer srv.Close()

	e, st := newTestEngine(t)
	e.DisabledAnalyzers = []string{"xss", "sqli", "bruteforce"}

	record, err := st.CreateScan(srv.URL+"/", "")
	require.NoError(t, err)

	require.NoError(t, e.RunWebScan(context.Background(), record.ID, fastConfig(srv.URL+"/")))

	summary := e.Summary()
	require.Len(t, summary.Analyzers, 2)
	names := []string{summary.Analyzers[0].Name, summary.Analyzers[1].Name}
	assert.ElementsMatch(t, []string{"csrf", "config"}, names)
}

func TestEngine_SummaryBeforeRun(t *testing.T) {
	e, _ := newTestEngine(t)

	summary := e.Summary()
	assert.Equal(t, "UNKNOWN", summary.Status)
	assert.Zero(t, summary.Vulnerabilities)
	assert.Empty(t, summary.Analyzers)
}
