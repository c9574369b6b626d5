package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("database reachable", func(t *testing.T) {
		h := NewHealthHandler(pingerFunc(func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		}))

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
		h.Health(c)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Success bool           `json:"success"`
			Data    HealthResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "ok", resp.Data.Status)
		assert.Equal(t, "ok", resp.Data.Database)
		assert.NotEmpty(t, resp.Data.Uptime)
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(pingerFunc(func(context.Context) error {
			return errors.New("dial tcp: connection refused")
		}))

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
		h.Health(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp struct {
			Success bool           `json:"success"`
			Data    HealthResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "degraded", resp.Data.Status)
		assert.Contains(t, resp.Data.Database, "connection refused")
	})
}
