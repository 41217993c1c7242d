package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxTitleLength: 10, MaxContentLength: 20}))
	app.Post("/api/v1/content", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	app.Get("/api/v1/content", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/other", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func TestValidationPassesGoodRequest(t *testing.T) {
	app := validationApp()

	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader(`{"title":"ok","content":"short"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestValidationRejectsWrongContentType(t *testing.T) {
	app := validationApp()

	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader("title=x"))
	req.Header.Set("Content-Type", "text/plain")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestValidationRejectsLongTitle(t *testing.T) {
	app := validationApp()

	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader(`{"title":"this title is far too long","content":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestValidationRejectsOversizedContent(t *testing.T) {
	app := validationApp()

	body := `{"title":"ok","content":"` + strings.Repeat("x", 30) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestValidationSkipsReadsAndOtherPaths(t *testing.T) {
	app := validationApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/content", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req := httptest.NewRequest("POST", "/api/v1/other", strings.NewReader(`{"title":"this title is far too long"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
