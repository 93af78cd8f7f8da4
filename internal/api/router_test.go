package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/castflow/internal/aggregator"
	"github.com/jonesrussell/castflow/internal/api"
	"github.com/jonesrussell/castflow/internal/cache"
	"github.com/jonesrussell/castflow/internal/coalesce"
	"github.com/jonesrussell/castflow/internal/config"
	"github.com/jonesrussell/castflow/internal/gate"
	"github.com/jonesrussell/castflow/internal/hub"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
	"github.com/jonesrussell/castflow/internal/models"
	"github.com/jonesrussell/castflow/internal/resolver"
)

// fixtureHubHandler serves a minimal hub with one identity: @dwr, fid 5650,
// two posts newest-first.
func fixtureHubHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/proofByHandle", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "dwr" {
			http.Error(w, `{"error": "no proof"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"messages": [{"data": {"type": 11, "fid": 5650}, "hash": "0x01"}]}`))
	})
	mux.HandleFunc("/v1/profileByHandle", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/v1/profileDataByIdentity", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages": [
			{"data": {"type": 11, "fid": 5650, "timestamp": 10,
				"userDataBody": {"type": 6, "value": "dwr"}}, "hash": "0xp1"},
			{"data": {"type": 11, "fid": 5650, "timestamp": 11,
				"userDataBody": {"type": 2, "value": "Dan"}}, "hash": "0xp2"}
		]}`))
	})
	mux.HandleFunc("/v1/postsByIdentity", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages": [
			{"data": {"type": 1, "fid": 5650, "timestamp": 200,
				"castAddBody": {"text": "newest post"}}, "hash": "0xa"},
			{"data": {"type": 1, "fid": 5650, "timestamp": 100,
				"castAddBody": {"text": "older post"}}, "hash": "0xb"}
		]}`))
	})
	return mux
}

func newTestRouter(t *testing.T, hubHandler http.Handler) *gin.Engine {
	t.Helper()
	srv := httptest.NewServer(hubHandler)
	t.Cleanup(srv.Close)

	log := logger.NewNopLogger()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	cfg := &config.Config{}
	cfg.Hub.URL = srv.URL
	require.NoError(t, cfg.Server.Validate())

	g := gate.New(gate.Config{MaxRetries: 0}, log, m)
	client := hub.NewClient(hub.Config{BaseURL: srv.URL}, g, log)
	shared := cache.New(cache.Config{})

	resolveBatcher := coalesce.New[uint64]("resolve", coalesce.Config{Window: time.Millisecond}, log, m)
	reactions := coalesce.New[int]("reactions", coalesce.Config{Window: time.Millisecond}, log, m)
	parents := coalesce.New[*models.Post]("parents", coalesce.Config{Window: time.Millisecond}, log, m)

	res := resolver.New(client, shared, resolveBatcher, 0, log)
	agg := aggregator.New(aggregator.Config{}, client, shared, reactions, parents, log, m)

	return api.NewRouter(cfg, res, agg, g, shared, registry, log).SetupRoutes()
}

func doRequest(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestExportJSONByFid(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?fid=5650&limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var bundle models.Bundle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	assert.Equal(t, uint64(5650), bundle.Profile.Fid)
	assert.Equal(t, "dwr", bundle.Profile.Handle)
	require.Len(t, bundle.Posts, 2)
	assert.Equal(t, "newest post", bundle.Posts[0].Text)
}

func TestExportJSONByUsername(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?username=%40DWR")
	require.Equal(t, http.StatusOK, w.Code)

	var bundle models.Bundle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	assert.Equal(t, uint64(5650), bundle.Profile.Fid)
}

func TestExportUnknownUsernameIs404(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?username=ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ghost")
}

func TestExportConflictingIdentityIs400(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?fid=42&username=dwr")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "different identities")
}

func TestExportAgreeingIdentityIsAccepted(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?fid=5650&username=dwr")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExportRejectsBadParameters(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	tests := []struct {
		name string
		path string
	}{
		{"no identity", "/api/v1/export"},
		{"bad fid", "/api/v1/export?fid=abc"},
		{"bad limit", "/api/v1/export?fid=5650&limit=nope"},
		{"negative limit", "/api/v1/export?fid=5650&limit=-1"},
		{"bad sort", "/api/v1/export?fid=5650&sort=sideways"},
		{"bad format", "/api/v1/export?fid=5650&format=xml"},
		{"bad handle", "/api/v1/export?username=has%20space"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestExportUpstreamFailureIs500(t *testing.T) {
	router := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))

	w := doRequest(router, "/api/v1/export?fid=5650")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestExportTextStreamsDocument(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := doRequest(router, "/api/v1/export?fid=5650&format=text")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=llm-5650.txt", w.Header().Get("Content-Disposition"))

	body := w.Body.String()
	assert.Contains(t, body, "# @dwr (fid 5650)")
	assert.Contains(t, body, "[1] ")
	assert.Contains(t, body, "newest post")
	assert.Contains(t, body, "[2] ")
	assert.Contains(t, body, "older post")
}

func TestExportTextAppendsErrorLineOnUpstreamFailure(t *testing.T) {
	router := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))

	w := doRequest(router, "/api/v1/export?fid=5650&format=text")
	// Headers commit before the failure surfaces.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "[export aborted:")
}

func TestHealthReportsCircuitsAndCache(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	// Prime some state.
	doRequest(router, "/api/v1/export?fid=5650")

	w := doRequest(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Cache   cache.Stats       `json:"cache"`
		Circs   map[string]string `json:"circuits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "castflow", health.Service)
	assert.Positive(t, health.Cache.Entries)
}

func TestMetricsEndpointServes(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	doRequest(router, "/api/v1/export?fid=5650")

	w := doRequest(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "castflow_")
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	router := newTestRouter(t, fixtureHubHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = doRequest(router, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
