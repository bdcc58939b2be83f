package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/adapters/routing"
	"github.com/samirrijal/livemap/internal/core/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback int
		want     int
	}{
		{"not found", fmt.Errorf("route: %w", domain.ErrNotFound), 500, 404},
		{"breaker open", fmt.Errorf("osrm: %w", routing.ErrUnavailable), 500, 503},
		{"deadline", context.DeadlineExceeded, 500, 503},
		{"cancelled", context.Canceled, 500, 503},
		{"geo timeout", domain.ErrTimeout, 500, 503},
		{"other", errors.New("boom"), 500, 500},
		{"other with fallback", errors.New("all lookups failed"), 503, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err, tt.fallback))
		})
	}
}

func TestFailWith(t *testing.T) {
	app := fiber.New()
	app.Get("/missing", func(c *fiber.Ctx) error {
		return failWith(c, domain.ErrNotFound, 500, map[int]string{404: "no route between these points"})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return failWith(c, errors.New("boom"), 500, nil)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, "no route between these points", apiErr.Message)
	assert.NotEmpty(t, apiErr.Guidance)

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "internal_error", apiErr.Code)
	assert.Equal(t, "Internal Server Error", apiErr.Message)
}

func TestWSCatalog(t *testing.T) {
	app := fiber.New()
	SetupDocs(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/ws", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)

	var cat wsCatalog
	require.NoError(t, json.Unmarshal(body, &cat))
	assert.Equal(t, "/ws/map", cat.Endpoint)
	assert.Contains(t, cat.ClientToServer, msgSceneRetry)
	assert.Contains(t, cat.ClientToServer, msgSearchSelect)
	assert.Contains(t, cat.ServerToClient, outPresences)
	assert.Len(t, cat.ClientToServer, len(knownInbound))
	assert.IsIncreasing(t, cat.ServerToClient)
}
