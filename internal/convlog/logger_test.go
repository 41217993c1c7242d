package convlog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodomolab/voice-relay/internal/storage/models"
)

type fakeConvStore struct {
	inserted []*models.Conversation
	err      error
}

func (f *fakeConvStore) InsertConversation(conv *models.Conversation) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, conv)
	return nil
}

func TestLogPersistsEntry(t *testing.T) {
	store := &fakeConvStore{}
	l := NewLogger(store)

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	result := l.Log("user-1", "空はなぜ青いの？", "光が散らばるからだよ。", 4.2, Metadata{
		ResponseTime: 1500 * time.Millisecond,
		Timestamp:    ts,
	})

	require.True(t, result.Success)
	require.Len(t, store.inserted, 1)

	conv := store.inserted[0]
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.UserID)
	assert.Equal(t, "空はなぜ青いの？", conv.Question)
	assert.Equal(t, "光が散らばるからだよ。", conv.Answer)
	assert.Equal(t, 4.2, conv.AudioLength)
	assert.Equal(t, int64(1500), conv.ResponseTimeMS)
	assert.Equal(t, ts, conv.CreatedAt)
}

func TestLogDefaultsTimestamp(t *testing.T) {
	store := &fakeConvStore{}
	l := NewLogger(store)

	result := l.Log("user-1", "q", "a", 0, Metadata{})

	require.True(t, result.Success)
	assert.False(t, store.inserted[0].CreatedAt.IsZero())
}

func TestLogReportsFailureWithoutPanicking(t *testing.T) {
	storeErr := errors.New("database is locked")
	l := NewLogger(&fakeConvStore{err: storeErr})

	result := l.Log("user-1", "q", "a", 0, Metadata{})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, storeErr)
}
