package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

type ContentStore interface {
	InsertContent(item *models.ContentItem) error
	ListContent() ([]models.ContentItem, error)
	ListContentByCategory(category string) ([]models.ContentItem, error)
	InsertExperiment(exp *models.Experiment) error
	InsertPrompt(prompt *models.CoursePrompt) error
}

// PromptCacheInvalidator drops cached instructions after an admin update;
// nil when the cache is disabled.
type PromptCacheInvalidator interface {
	InvalidateInstructions(ctx context.Context) error
}

// ContentHandler serves the admin endpoints for seeding retrievable content,
// the experiment catalog and course prompts.
type ContentHandler struct {
	store ContentStore
	cache PromptCacheInvalidator
}

func NewContentHandler(store ContentStore, cache PromptCacheInvalidator) *ContentHandler {
	return &ContentHandler{store: store, cache: cache}
}

func (h *ContentHandler) AddContent(c *fiber.Ctx) error {
	var req struct {
		Title    string   `json:"title"`
		Content  string   `json:"content"`
		Category string   `json:"category"`
		Keywords []string `json:"keywords"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and content are required",
		})
	}

	item := &models.ContentItem{
		ID:       uuid.New().String(),
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
		Keywords: req.Keywords,
	}

	if err := h.store.InsertContent(item); err != nil {
		logger.Error("Failed to insert content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store content",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": item.ID,
	})
}

func (h *ContentHandler) ListContent(c *fiber.Ctx) error {
	category := c.Query("category")

	var (
		items []models.ContentItem
		err   error
	)
	if category != "" {
		items, err = h.store.ListContentByCategory(category)
	} else {
		items, err = h.store.ListContent()
	}

	if err != nil {
		logger.Error("Failed to list content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list content",
		})
	}

	return c.JSON(fiber.Map{
		"items": items,
		"count": len(items),
	})
}

func (h *ContentHandler) AddExperiment(c *fiber.Ctx) error {
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Keywords    []string `json:"keywords"`
		URL         string   `json:"url"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Title == "" || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and url are required",
		})
	}

	exp := &models.Experiment{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Keywords:    req.Keywords,
		URL:         req.URL,
	}

	if err := h.store.InsertExperiment(exp); err != nil {
		logger.Error("Failed to insert experiment", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store experiment",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": exp.ID,
	})
}

func (h *ContentHandler) UpsertPrompt(c *fiber.Ctx) error {
	var req struct {
		ID           string `json:"id"`
		CourseLevel  string `json:"course_level"`
		Instructions string `json:"instructions"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.CourseLevel == "" || req.Instructions == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Course level and instructions are required",
		})
	}

	prompt := &models.CoursePrompt{
		ID:           req.ID,
		CourseLevel:  req.CourseLevel,
		Instructions: req.Instructions,
	}
	if prompt.ID == "" {
		prompt.ID = uuid.New().String()
	}

	if err := h.store.InsertPrompt(prompt); err != nil {
		logger.Error("Failed to upsert prompt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store prompt",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateInstructions(c.Context()); err != nil {
			logger.Warn("Failed to invalidate instruction cache", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"id": prompt.ID,
	})
}
