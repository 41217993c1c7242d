package convlog

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/metrics"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

type Store interface {
	InsertConversation(conv *models.Conversation) error
}

// Metadata carries per-turn details recorded alongside the transcript.
type Metadata struct {
	ResponseTime time.Duration
	Timestamp    time.Time
}

// Result reports the outcome without raising: a logging outage must never
// interrupt a live conversation.
type Result struct {
	Success bool
	Err     error
}

// Logger persists question/answer pairs.
type Logger struct {
	store Store
}

func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// Log appends one conversation entry. Persistence failures are caught here
// and reported through the Result.
func (l *Logger) Log(userID, question, answer string, audioLength float64, meta Metadata) Result {
	createdAt := meta.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	conv := &models.Conversation{
		ID:             uuid.New().String(),
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		AudioLength:    audioLength,
		ResponseTimeMS: meta.ResponseTime.Milliseconds(),
		CreatedAt:      createdAt,
	}

	if err := l.store.InsertConversation(conv); err != nil {
		metrics.ConversationsLogged.WithLabelValues("error").Inc()
		logger.Error("Failed to log conversation",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return Result{Success: false, Err: err}
	}

	metrics.ConversationsLogged.WithLabelValues("ok").Inc()
	logger.Info("Conversation logged",
		zap.String("user_id", userID),
		zap.Int64("response_time_ms", conv.ResponseTimeMS),
	)

	return Result{Success: true}
}
