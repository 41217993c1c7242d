package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodomolab/voice-relay/internal/storage"
	"github.com/kodomolab/voice-relay/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func TestUsageRecordLifecycle(t *testing.T) {
	client := newTestClient(t)

	resetDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, client.CreateUser(&models.UsageRecord{
		UserID:      "user-1",
		CourseLevel: "elementary",
		UsageCount:  0,
		UsageLimit:  3,
		ResetDate:   resetDate,
	}))

	rec, err := client.GetUsageRecord("user-1")
	require.NoError(t, err)
	assert.Equal(t, "elementary", rec.CourseLevel)
	assert.Equal(t, 3, rec.UsageLimit)
	assert.Equal(t, resetDate.Unix(), rec.ResetDate.Unix())
	assert.Nil(t, rec.LastUsedAt)

	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, err := client.IncrementUsage("user-1", now)
		require.NoError(t, err)
		assert.True(t, ok, "increment %d should succeed", i+1)
	}

	// Fourth increment hits the in-query guard.
	ok, err := client.IncrementUsage("user-1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err = client.GetUsageRecord("user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.UsageCount)
	require.NotNil(t, rec.LastUsedAt)

	nextReset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, client.ResetUsage("user-1", nextReset, now))

	rec, err = client.GetUsageRecord("user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.UsageCount)
	assert.Equal(t, nextReset.Unix(), rec.ResetDate.Unix())
	require.NotNil(t, rec.LastResetAt)
}

func TestGetUsageRecordNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetUsageRecord("ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPromptUpsert(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetPromptByLevel("preschool")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, client.InsertPrompt(&models.CoursePrompt{
		ID:           "p1",
		CourseLevel:  "preschool",
		Instructions: "やさしく答えてください。",
	}))

	prompt, err := client.GetPromptByLevel("preschool")
	require.NoError(t, err)
	assert.Equal(t, "やさしく答えてください。", prompt.Instructions)

	// Same ID updates in place.
	require.NoError(t, client.InsertPrompt(&models.CoursePrompt{
		ID:           "p1",
		CourseLevel:  "preschool",
		Instructions: "ゆっくり話してください。",
	}))

	prompt, err = client.GetPromptByLevel("preschool")
	require.NoError(t, err)
	assert.Equal(t, "ゆっくり話してください。", prompt.Instructions)
}

func TestContentRoundTrip(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertContent(&models.ContentItem{
		ID:       "c1",
		Title:    "空はなぜ青いの",
		Content:  "光の散乱です。",
		Category: "科学",
		Keywords: []string{"空", "青"},
	}))
	require.NoError(t, client.InsertContent(&models.ContentItem{
		ID:      "c2",
		Title:   "ねんど工作",
		Content: "こねて形を作ります。",
	}))

	items, err := client.ListContent()
	require.NoError(t, err)
	assert.Len(t, items, 2)

	byCategory, err := client.ListContentByCategory("科学")
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "c1", byCategory[0].ID)
	assert.Equal(t, []string{"空", "青"}, byCategory[0].Keywords)
}

func TestExperimentRoundTrip(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertExperiment(&models.Experiment{
		ID:       "e1",
		Title:    "ぷるぷるスライム",
		Category: "実験",
		Keywords: []string{"スライム"},
		URL:      "https://example.com/slime",
	}))

	experiments, err := client.ListExperiments()
	require.NoError(t, err)
	require.Len(t, experiments, 1)
	assert.Equal(t, "ぷるぷるスライム", experiments[0].Title)
	assert.Equal(t, []string{"スライム"}, experiments[0].Keywords)
}

func TestCorruptKeywordsColumnDegradesToNil(t *testing.T) {
	client := newTestClient(t)

	_, err := client.db.Exec(
		`INSERT INTO rag_content (id, title, content, category, keywords, created_at)
		 VALUES ('bad', '空の色', '光の散乱です。', '科学', '{not json', 0)`,
	)
	require.NoError(t, err)

	items, err := client.ListContent()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad", items[0].ID)
	assert.Nil(t, items[0].Keywords)

	_, err = client.db.Exec(
		`INSERT INTO experiments (id, title, description, category, keywords, url, created_at)
		 VALUES ('bad', 'スライム', '', '', '[broken', 'https://example.com/slime', 0)`,
	)
	require.NoError(t, err)

	experiments, err := client.ListExperiments()
	require.NoError(t, err)
	require.Len(t, experiments, 1)
	assert.Nil(t, experiments[0].Keywords)
}

func TestConversationHistoryOrder(t *testing.T) {
	client := newTestClient(t)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, client.InsertConversation(&models.Conversation{
			ID:        id,
			UserID:    "user-1",
			Question:  "q",
			Answer:    "a",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, client.InsertConversation(&models.Conversation{
		ID:        "other",
		UserID:    "user-2",
		Question:  "q",
		Answer:    "a",
		CreatedAt: base,
	}))

	conversations, err := client.GetConversationHistory("user-1", 2)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "new", conversations[0].ID)
	assert.Equal(t, "mid", conversations[1].ID)
}
