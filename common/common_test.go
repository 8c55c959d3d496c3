package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostListHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("10.0.0.1\n10.0.0.2\n"))
	})
	return mux
}

func TestSendHTTPRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newHostListHandler())
	defer srv.Close()

	headers := map[string]string{"Content-Type": "application/json"}

	_, err := SendHTTPRequest("ding", srv.URL, headers, strings.NewReader(""))
	assert.Error(t, err, "unsupported method must error")

	_, err = SendHTTPRequest("get", srv.URL, headers, strings.NewReader(""))
	assert.NoError(t, err)

	_, err = SendHTTPRequest("POST", srv.URL, headers, strings.NewReader(""))
	assert.NoError(t, err)
}

func TestSendHTTPGetRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newHostListHandler())
	defer srv.Close()

	var out string
	err := SendHTTPGetRequest(srv.URL, false, false, &out)
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.1")

	err = SendHTTPGetRequest("http://127.0.0.1:0", false, false, &out)
	assert.Error(t, err)
}

func TestJSONEncode(t *testing.T) {
	t.Parallel()
	type payload struct {
		Name string `json:"name"`
	}
	b, err := JSONEncode(payload{Name: "svc"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"svc"}`, string(b))
}

func TestExtractHost(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "localhost", ExtractHost(":1337"))
	assert.Equal(t, "192.168.1.100", ExtractHost("192.168.1.100:1337"))
	assert.Equal(t, "localhost", ExtractHost("localhost:1337"))
}

func TestExtractPort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1337, ExtractPort("localhost:1337"))
	assert.Equal(t, 0, ExtractPort("localhost"))
	assert.Equal(t, 0, ExtractPort("localhost:"))
	assert.Equal(t, 0, ExtractPort("localhost:notaport"))
}

func TestUnixTimestampToTime(t *testing.T) {
	t.Parallel()
	tt := UnixTimestampToTime(1136239445)
	assert.Equal(t, int64(1136239445), tt.Unix())
}
