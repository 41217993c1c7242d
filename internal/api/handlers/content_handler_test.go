package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodomolab/voice-relay/internal/storage/models"
)

type fakeContentStore struct {
	content     []models.ContentItem
	experiments []models.Experiment
	prompts     []models.CoursePrompt
}

func (f *fakeContentStore) InsertContent(item *models.ContentItem) error {
	f.content = append(f.content, *item)
	return nil
}

func (f *fakeContentStore) ListContent() ([]models.ContentItem, error) {
	return f.content, nil
}

func (f *fakeContentStore) ListContentByCategory(category string) ([]models.ContentItem, error) {
	var out []models.ContentItem
	for _, item := range f.content {
		if item.Category == category {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeContentStore) InsertExperiment(exp *models.Experiment) error {
	f.experiments = append(f.experiments, *exp)
	return nil
}

func (f *fakeContentStore) InsertPrompt(prompt *models.CoursePrompt) error {
	f.prompts = append(f.prompts, *prompt)
	return nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateInstructions(ctx context.Context) error {
	f.calls++
	return nil
}

func contentApp(store *fakeContentStore, cache PromptCacheInvalidator) *fiber.App {
	h := NewContentHandler(store, cache)
	app := fiber.New()
	app.Post("/api/v1/content", h.AddContent)
	app.Get("/api/v1/content", h.ListContent)
	app.Post("/api/v1/experiments", h.AddExperiment)
	app.Post("/api/v1/prompts", h.UpsertPrompt)
	return app
}

func TestAddContent(t *testing.T) {
	store := &fakeContentStore{}
	app := contentApp(store, nil)

	body := `{"title":"空はなぜ青いの","content":"光の散乱です。","category":"科学","keywords":["空","青"]}`
	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.Len(t, store.content, 1)
	assert.Equal(t, "空はなぜ青いの", store.content[0].Title)
	assert.NotEmpty(t, store.content[0].ID)
	assert.Equal(t, []string{"空", "青"}, store.content[0].Keywords)
}

func TestAddContentMissingFields(t *testing.T) {
	store := &fakeContentStore{}
	app := contentApp(store, nil)

	req := httptest.NewRequest("POST", "/api/v1/content", strings.NewReader(`{"title":"むだい"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, store.content)
}

func TestListContentByCategory(t *testing.T) {
	store := &fakeContentStore{content: []models.ContentItem{
		{ID: "a", Title: "空の色", Category: "科学"},
		{ID: "b", Title: "ねんど工作", Category: "工作"},
	}}
	app := contentApp(store, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/content?category=科学", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Items []models.ContentItem `json:"items"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Count)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "a", payload.Items[0].ID)
}

func TestAddExperimentRequiresURL(t *testing.T) {
	store := &fakeContentStore{}
	app := contentApp(store, nil)

	req := httptest.NewRequest("POST", "/api/v1/experiments", strings.NewReader(`{"title":"スライム"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUpsertPromptInvalidatesCache(t *testing.T) {
	store := &fakeContentStore{}
	cache := &fakeInvalidator{}
	app := contentApp(store, cache)

	body := `{"course_level":"preschool","instructions":"やさしく答えてください。"}`
	req := httptest.NewRequest("POST", "/api/v1/prompts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Len(t, store.prompts, 1)
	assert.Equal(t, "preschool", store.prompts[0].CourseLevel)
	assert.Equal(t, 1, cache.calls)
}
