package quota

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/storage"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

// ErrUserNotFound means no usage record exists for the user; the connection
// is refused rather than provisioning one implicitly.
var ErrUserNotFound = errors.New("user not found, please contact administrator")

// ExceededError reports a monthly quota violation and how long until the
// counter rolls over.
type ExceededError struct {
	DaysUntilReset int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("今月の利用上限に達しました。リセットまであと%d日です。", e.DaysUntilReset)
}

type Store interface {
	GetUsageRecord(userID string) (*models.UsageRecord, error)
	ResetUsage(userID string, resetDate, now time.Time) error
	IncrementUsage(userID string, now time.Time) (bool, error)
}

type CheckResult struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// Stats is a read-only snapshot for the usage endpoint.
type Stats struct {
	UsageCount int       `json:"usage_count"`
	UsageLimit int       `json:"usage_limit"`
	ResetDate  time.Time `json:"reset_date"`
	Remaining  int       `json:"remaining"`
}

// Guard enforces the monthly per-user usage ceiling.
type Guard struct {
	store Store
	now   func() time.Time
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// Check admits one use for the user or fails with ErrUserNotFound or
// *ExceededError. The monthly rollover is applied before any limit
// comparison: once the stored reset date has passed, the counter goes back to
// zero and the reset date advances to the first day of the following month.
func (g *Guard) Check(userID string) (*CheckResult, error) {
	rec, err := g.store.GetUsageRecord(userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}

	now := g.now()

	if now.After(rec.ResetDate) {
		nextReset := firstOfNextMonth(now)
		if err := g.store.ResetUsage(userID, nextReset, now); err != nil {
			return nil, fmt.Errorf("failed to reset usage: %w", err)
		}

		logger.Info("Usage counter rolled over",
			zap.String("user_id", userID),
			zap.Time("next_reset", nextReset),
		)

		return &CheckResult{
			Allowed:   true,
			Remaining: rec.UsageLimit - 1,
			Limit:     rec.UsageLimit,
		}, nil
	}

	if rec.UsageCount >= rec.UsageLimit {
		return nil, &ExceededError{DaysUntilReset: daysUntil(rec.ResetDate, now)}
	}

	ok, err := g.store.IncrementUsage(userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	if !ok {
		// Another connection took the last slot between our read and the
		// conditional increment.
		return nil, &ExceededError{DaysUntilReset: daysUntil(rec.ResetDate, now)}
	}

	remaining := rec.UsageLimit - rec.UsageCount - 1

	logger.Info("Usage recorded",
		zap.String("user_id", userID),
		zap.Int("used", rec.UsageCount+1),
		zap.Int("limit", rec.UsageLimit),
	)

	return &CheckResult{
		Allowed:   true,
		Remaining: remaining,
		Limit:     rec.UsageLimit,
	}, nil
}

// UsageStats reports current usage without consuming a slot.
func (g *Guard) UsageStats(userID string) (*Stats, error) {
	rec, err := g.store.GetUsageRecord(userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}

	remaining := rec.UsageLimit - rec.UsageCount
	if remaining < 0 {
		remaining = 0
	}

	return &Stats{
		UsageCount: rec.UsageCount,
		UsageLimit: rec.UsageLimit,
		ResetDate:  rec.ResetDate,
		Remaining:  remaining,
	}, nil
}

func firstOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
}

func daysUntil(resetDate, now time.Time) int {
	return int(math.Ceil(resetDate.Sub(now).Hours() / 24))
}
