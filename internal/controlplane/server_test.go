package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nivisproxy/l4proxy/internal/state"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(state.New(), zap.NewNop(), "127.0.0.1:0")
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestUpdateConfigAppliesValidConfig(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/config", map[string]interface{}{
		"listen":   map[string]string{"tcp_address": "127.0.0.1:8080"},
		"backends": []map[string]interface{}{{"address": "127.0.0.1:9001", "healthy": true}},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.state.IsConfigured())
}

func TestUpdateConfigRejectsMissingListenAddress(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/config", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, s.state.IsConfigured())
}

func TestReloadBackendsRequiresPriorConfig(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/backends", map[string]interface{}{
		"backends": []map[string]interface{}{{"address": "127.0.0.1:9002"}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReloadBackendsReplacesBackendList(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/config", map[string]interface{}{
		"listen":   map[string]string{"tcp_address": "127.0.0.1:8080"},
		"backends": []map[string]interface{}{{"address": "127.0.0.1:9001", "healthy": true}},
	})

	rec := doJSON(t, s, http.MethodPost, "/v1/backends", map[string]interface{}{
		"backends": []map[string]interface{}{{"address": "127.0.0.1:9002", "healthy": true}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp reloadBackendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "127.0.0.1:9002", s.state.GetConfig().Backends[0].Address)
}

func TestDrainConnectionsReturnsSuccessWhenIdle(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/drain?timeout_seconds=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp drainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Drained)
}

func TestMetricsStreamAcksEachSample(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewBufferString(`{"name":"latency_ms","value":1.5}` + "\n" + `{"name":"latency_ms","value":2.5}` + "\n")
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics/stream", body)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, bytes.Count(rec.Body.Bytes(), []byte("received")))
}
