package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodomolab/voice-relay/internal/quota"
	"github.com/kodomolab/voice-relay/internal/storage/models"
)

type fakeHistoryStore struct {
	conversations []models.Conversation
	lastLimit     int
}

func (f *fakeHistoryStore) GetConversationHistory(userID string, limit int) ([]models.Conversation, error) {
	f.lastLimit = limit
	var out []models.Conversation
	for _, conv := range f.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	return out, nil
}

type fakeUsageReader struct {
	stats map[string]*quota.Stats
}

func (f *fakeUsageReader) UsageStats(userID string) (*quota.Stats, error) {
	stats, ok := f.stats[userID]
	if !ok {
		return nil, quota.ErrUserNotFound
	}
	return stats, nil
}

func historyApp(store *fakeHistoryStore, usage *fakeUsageReader) *fiber.App {
	h := NewHistoryHandler(store, usage)
	app := fiber.New()
	app.Get("/api/v1/conversations", h.GetConversations)
	app.Get("/api/v1/usage/:userId", h.GetUsage)
	return app
}

func TestGetConversations(t *testing.T) {
	store := &fakeHistoryStore{conversations: []models.Conversation{
		{ID: "1", UserID: "user-1", Question: "空はなぜ青いの？", Answer: "光が散らばるからだよ。"},
		{ID: "2", UserID: "user-2", Question: "雨はどこから来るの？", Answer: "雲からだよ。"},
	}}
	app := historyApp(store, &fakeUsageReader{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/conversations?userId=user-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Conversations []models.Conversation `json:"conversations"`
		Count         int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Count)
	require.Len(t, payload.Conversations, 1)
	assert.Equal(t, "1", payload.Conversations[0].ID)
	assert.Equal(t, 50, store.lastLimit)
}

func TestGetConversationsRequiresUserID(t *testing.T) {
	app := historyApp(&fakeHistoryStore{}, &fakeUsageReader{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/conversations", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetConversationsCapsLimit(t *testing.T) {
	store := &fakeHistoryStore{}
	app := historyApp(store, &fakeUsageReader{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/conversations?userId=user-1&limit=9999", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, store.lastLimit)
}

func TestGetUsage(t *testing.T) {
	usage := &fakeUsageReader{stats: map[string]*quota.Stats{
		"user-1": {
			UsageCount: 42,
			UsageLimit: 300,
			ResetDate:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			Remaining:  258,
		},
	}}
	app := historyApp(&fakeHistoryStore{}, usage)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/usage/user-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats quota.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 42, stats.UsageCount)
	assert.Equal(t, 258, stats.Remaining)
}

func TestGetUsageUnknownUser(t *testing.T) {
	app := historyApp(&fakeHistoryStore{}, &fakeUsageReader{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/usage/ghost", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
