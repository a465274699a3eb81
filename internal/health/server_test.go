package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthzReportsStore(t *testing.T) {
	ok := NewRouter(pingerFunc(func(context.Context) error { return nil }), nil, nil)
	code, body := get(t, ok, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	down := NewRouter(pingerFunc(func(context.Context) error { return errors.New("connection refused") }), nil, nil)
	code, body = get(t, down, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", body["error"])
}

func TestStatsCollectsSections(t *testing.T) {
	h := NewRouter(nil, map[string]StatsFunc{
		"cache": func(context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"hits": 3}, nil
		},
		"storage": func(context.Context) (map[string]interface{}, error) {
			return nil, errors.New("qdrant unavailable")
		},
	}, nil)

	code, body := get(t, h, "/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"hits": float64(3)}, body["cache"])
	assert.Equal(t, map[string]interface{}{"error": "qdrant unavailable"}, body["storage"])
}
