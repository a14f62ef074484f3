package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerHealth(t *testing.T) {
	s := NewServer(ServerConfig{})

	rec := serve(s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestServerReadiness(t *testing.T) {
	var notReady error = errors.New("catalog recovering")
	s := NewServer(ServerConfig{Ready: func() error { return notReady }})

	rec := serve(s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog recovering")

	notReady = nil
	rec = serve(s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMetricsDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry already initialized")
	}
	s := NewServer(ServerConfig{})

	rec := serve(s, "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, ":9090", NewServer(ServerConfig{}).Addr())
	assert.Equal(t, "127.0.0.1:9200", NewServer(ServerConfig{Host: "127.0.0.1", Port: 9200}).Addr())
}
