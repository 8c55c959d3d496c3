package stats

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrasher-corp/lsd/client"
)

func doRequest(t *testing.T, srv *Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stats", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	resp := rec.Result()
	var decoded map[string]any
	if resp.Body != nil {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestHandleBadJSON(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `not json`)
	assert.Equal(t, float64(ErrBadJSON), body["error"])
}

func TestHandleNoVersion(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"action":"cache_stats"}`)
	assert.Equal(t, float64(ErrNoVersion), body["error"])
}

func TestHandleUnsupportedVersion(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":99,"action":"cache_stats"}`)
	assert.Equal(t, float64(ErrUnsupportedVersion), body["error"])
}

func TestHandleNoAction(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1}`)
	assert.Equal(t, float64(ErrNoAction), body["error"])
}

func TestHandleUnsupportedAction(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1,"action":"explode"}`)
	assert.Equal(t, float64(ErrUnsupportedAction), body["error"])
}

func TestHandleCacheStats(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1,"action":"cache_stats"}`)
	require.Contains(t, body, "cache_used_bytes")
	assert.Equal(t, float64(0), body["cache_used_bytes"])
}

func TestHandleAllServicesEmpty(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1,"action":"all_services"}`)
	assert.Empty(t, body["services"])
}

func TestHandleServiceRequiresName(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1,"action":"service"}`)
	assert.Equal(t, float64(ErrBadJSON), body["error"])
}

func TestHandleServiceNotFound(t *testing.T) {
	t.Parallel()
	srv := New(client.New(0), nil)
	_, body := doRequest(t, srv, `{"version":1,"action":"service","name":"nope"}`)
	assert.Equal(t, false, body["found"])
}
