package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkFunc func(context.Context) error

func (f checkFunc) Ping(ctx context.Context) error   { return f(ctx) }
func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func getHealth(t *testing.T, h *HealthHandler) (int, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthHealthy(t *testing.T) {
	code, body := getHealth(t, NewHealthHandler(checkFunc(healthy), checkFunc(healthy), 0))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"api": "ok", "warehouse": "ok", "agents": "ok"}, body["checks"])
}

func TestHealthDegraded(t *testing.T) {
	down := checkFunc(func(context.Context) error { return errors.New("connection refused") })

	code, body := getHealth(t, NewHealthHandler(checkFunc(healthy), down, 0))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["checks"].(map[string]any)["agents"])

	code, body = getHealth(t, NewHealthHandler(down, checkFunc(healthy), 0))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unreachable", body["checks"].(map[string]any)["warehouse"])
}
