package prompts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/metrics"
	"github.com/kodomolab/voice-relay/internal/storage"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

// DefaultCourseLevel is assumed for users without an assigned tier.
const DefaultCourseLevel = "preschool"

type UserStore interface {
	GetUsageRecord(userID string) (*models.UsageRecord, error)
}

type PromptStore interface {
	GetPromptByLevel(courseLevel string) (*models.CoursePrompt, error)
}

// InstructionCache is optional.
type InstructionCache interface {
	GetInstructions(ctx context.Context, courseLevel string) (string, bool, error)
	SetInstructions(ctx context.Context, courseLevel, instructions string, ttl time.Duration) error
}

// Provider resolves a user's course level to the base system instructions
// for their upstream session.
type Provider struct {
	users    UserStore
	prompts  PromptStore
	cache    InstructionCache
	cacheTTL time.Duration
}

func NewProvider(users UserStore, prompts PromptStore, cache InstructionCache, cacheTTL time.Duration) *Provider {
	return &Provider{
		users:    users,
		prompts:  prompts,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// BaseInstructions looks up the user's course level and the matching prompt
// record. A missing prompt yields "" (the session proceeds with default
// instructions); store failures are returned for the caller to swallow.
func (p *Provider) BaseInstructions(ctx context.Context, userID string) (string, error) {
	level := DefaultCourseLevel

	rec, err := p.users.GetUsageRecord(userID)
	if err != nil {
		logger.Debug("Course level lookup failed, using default",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else if rec.CourseLevel != "" {
		level = rec.CourseLevel
	}

	if p.cache != nil {
		cached, found, err := p.cache.GetInstructions(ctx, level)
		if err != nil {
			logger.Debug("Instruction cache lookup failed", zap.Error(err))
		} else if found {
			metrics.ContextCacheHits.WithLabelValues("instructions", "hit").Inc()
			return cached, nil
		}
		metrics.ContextCacheHits.WithLabelValues("instructions", "miss").Inc()
	}

	prompt, err := p.prompts.GetPromptByLevel(level)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("No prompt record for course level", zap.String("course_level", level))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load prompt: %w", err)
	}

	logger.Info("Loaded instructions for course level", zap.String("course_level", level))

	if p.cache != nil {
		if err := p.cache.SetInstructions(ctx, level, prompt.Instructions, p.cacheTTL); err != nil {
			logger.Debug("Instruction cache write failed", zap.Error(err))
		}
	}

	return prompt.Instructions, nil
}
