package healthprobe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	return resp
}

func TestHealthAlwaysOK(t *testing.T) {
	hc := New()

	w := httptest.NewRecorder()
	hc.Health()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeProbe(t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
}

func TestReadyBeforeStartupIsUnavailable(t *testing.T) {
	hc := New()

	w := httptest.NewRecorder()
	hc.Ready()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeProbe(t, w)
	assert.Equal(t, "not_ready", resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestReadyFollowsSetReady(t *testing.T) {
	hc := New()
	hc.SetReady(true)

	w := httptest.NewRecorder()
	hc.Ready()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decodeProbe(t, w).Status)

	// Shutdown flips readiness back off while liveness stays up.
	hc.SetReady(false)

	w = httptest.NewRecorder()
	hc.Ready()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	hc.Health()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
