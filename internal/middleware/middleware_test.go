package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"chroma-rag/config"
	"chroma-rag/pkg/apperror"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(1)
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	l.Release()
	assert.True(t, l.Acquire())
	l.Release()
	l.Release() // extra release is a no-op
}

func TestConnectionLimit_RejectsWhenFull(t *testing.T) {
	l := NewConnectionLimiter(1)
	require.True(t, l.Acquire())

	app := fiber.New()
	app.Use(ConnectionLimit(l))
	app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c fiber.Ctx) error { return c.SendString(apperror.TrackingID(c)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(apperror.HeaderRequestID, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get(apperror.HeaderRequestID))

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get(apperror.HeaderRequestID), 36)
}

func TestPanicRecovery(t *testing.T) {
	app := fiber.New()
	app.Use(PanicRecovery())
	app.Use(RequestID())
	app.Get("/boom", func(c fiber.Ctx) error { panic("kaboom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body apperror.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AI-9000", body.ErrorCode)
	assert.NotEmpty(t, body.TrackingID)
}

func TestRegister_CORS(t *testing.T) {
	cfg := config.Default()
	cfg.Cors.AllowOrigins = []string{"https://admin.example.com"}

	app := fiber.New()
	Register(app, cfg)
	app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://admin.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
