package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/quota"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

type HistoryStore interface {
	GetConversationHistory(userID string, limit int) ([]models.Conversation, error)
}

type UsageReader interface {
	UsageStats(userID string) (*quota.Stats, error)
}

// HistoryHandler serves conversation history and usage statistics.
type HistoryHandler struct {
	store HistoryStore
	usage UsageReader
}

func NewHistoryHandler(store HistoryStore, usage UsageReader) *HistoryHandler {
	return &HistoryHandler{store: store, usage: usage}
}

func (h *HistoryHandler) GetConversations(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	conversations, err := h.store.GetConversationHistory(userID, limit)
	if err != nil {
		logger.Error("Failed to get conversation history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get conversation history",
		})
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

func (h *HistoryHandler) GetUsage(c *fiber.Ctx) error {
	userID := c.Params("userId")

	stats, err := h.usage.UsageStats(userID)
	if err != nil {
		if errors.Is(err, quota.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		logger.Error("Failed to get usage stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get usage stats",
		})
	}

	return c.JSON(stats)
}
