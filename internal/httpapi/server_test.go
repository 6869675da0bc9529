package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/metrics"
	"github.com/dshills/gocontext-index/internal/workspace"
	"github.com/dshills/gocontext-index/pkg/types"
)

const source = `package sample

// ParseConfig reads the YAML configuration file at path.
func ParseConfig(path string) (map[string]string, error) {
	out := make(map[string]string)
	out["path"] = path
	return out, nil
}
`

type testEnv struct {
	srv  *httptest.Server
	root string
	reg  *workspace.Registry
}

func newTestEnv(t *testing.T, configure func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Embedder.Provider = "local"
	cfg.Embedder.Dimension = 16
	cfg.VectorStore.Backend = "chromem"
	cfg.Watcher.Enabled = false
	if configure != nil {
		configure(cfg)
	}

	m := metrics.New()
	reg := workspace.NewRegistryWithOpener(func(root string) (*workspace.Workspace, error) {
		return workspace.Open(root, cfg, m, logging.Discard())
	})
	t.Cleanup(func() { _ = reg.Close() })

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.go"), []byte(source), 0o644))

	srv := httptest.NewServer(New("", reg, m, nil, "test").Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, root: root, reg: reg}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) status(t *testing.T) WorkspaceStatus {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/api/status?path=" + url.QueryEscape(e.root))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st WorkspaceStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

// state is safe to call from assert.Eventually
func (e *testEnv) state() types.IndexingState {
	resp, err := http.Get(e.srv.URL + "/api/status?path=" + url.QueryEscape(e.root))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var st WorkspaceStatus
	if json.NewDecoder(resp.Body).Decode(&st) != nil {
		return ""
	}
	return st.State
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestIndexStatusSearchClear(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.post(t, "/api/index", pathRequest{Path: e.root})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return e.state() == types.StateIndexed
	}, 5*time.Second, 20*time.Millisecond)

	resp = e.post(t, "/api/search", searchRequest{Path: e.root, Query: "parse config", Limit: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found struct {
		Results []types.SearchResult `json:"results"`
		Total   int                  `json:"total"`
	}
	decodeBody(t, resp, &found)
	require.Equal(t, 1, found.Total)
	assert.Equal(t, "config.go", found.Results[0].FilePath)

	resp, err := http.Get(e.srv.URL + "/api/workspaces")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Items []WorkspaceStatus `json:"items"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Items, 1)

	resp = e.post(t, "/api/clear", pathRequest{Path: e.root})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st WorkspaceStatus
	decodeBody(t, resp, &st)
	assert.Equal(t, types.StateStandby, st.State)

	resp = e.post(t, "/api/stop", pathRequest{Path: e.root})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIndexConflict(t *testing.T) {
	e := newTestEnv(t, nil)
	ws, err := e.reg.Get(e.root)
	require.NoError(t, err)
	require.NoError(t, ws.Orchestrator().State().SetIndexing("busy"))

	resp := e.post(t, "/api/index", pathRequest{Path: e.root})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSearchNotConfigured(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Embedder.Provider = "openai"
		cfg.Embedder.APIKey = ""
	})

	resp := e.post(t, "/api/search", searchRequest{Path: e.root, Query: "config"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body ErrorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "NOT_CONFIGURED", body.Error.Code)
}

func TestBadRequests(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.post(t, "/api/index", pathRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.post(t, "/api/index", pathRequest{Path: filepath.Join(e.root, "missing")})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.post(t, "/api/search", searchRequest{Path: e.root, Query: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(e.srv.URL+"/api/clear", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	_ = e.status(t)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
