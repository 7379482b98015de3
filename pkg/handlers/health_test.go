package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
)

// jsonBody wraps a marshaled payload for httptest requests.
func jsonBody(payload []byte) io.Reader {
	return bytes.NewReader(payload)
}

func TestHealth(t *testing.T) {
	handler := NewHealthHandler(&config.Config{Version: "test", Env: "local"}, zap.NewNop())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPing(t *testing.T) {
	handler := NewHealthHandler(&config.Config{Version: "1.2.3", Env: "local"}, zap.NewNop())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "match-engine", response.Service)
	assert.Equal(t, "1.2.3", response.Version)
}
