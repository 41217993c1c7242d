package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxTitleLength      int
	MaxContentLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware checks the admin write endpoints before the handlers see them:
// content type, required fields and size caps.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTitleLength == 0 {
		cfg.MaxTitleLength = 200
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 50000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != "POST" && c.Method() != "PUT" {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()
		if !strings.HasPrefix(path, "/api/v1/content") &&
			!strings.HasPrefix(path, "/api/v1/experiments") &&
			!strings.HasPrefix(path, "/api/v1/prompts") {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if title, ok := req["title"].(string); ok && len(title) > cfg.MaxTitleLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Title exceeds maximum length",
			})
		}

		for _, field := range []string{"content", "instructions", "description"} {
			if value, ok := req[field].(string); ok && len(value) > cfg.MaxContentLength {
				cfg.Logger.Warn("Oversized admin payload rejected",
					zap.String("path", path),
					zap.String("field", field),
					zap.Int("length", len(value)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Payload exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}
