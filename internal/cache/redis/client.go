package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/pkg/logger"
)

// Client caches assembled retrieval context and course instructions so a busy
// session does not hit SQLite on every turn. Every method degrades to a miss
// on failure; callers fall back to the store.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetContext(ctx context.Context, queryHash, contextStr string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("ragctx:%s", queryHash), contextStr, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set context cache: %w", err)
	}

	logger.Debug("Retrieval context cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetContext(ctx context.Context, queryHash string) (string, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("ragctx:%s", queryHash)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get context cache: %w", err)
	}

	logger.Debug("Retrieval context cache hit", zap.String("query_hash", queryHash))
	return val, true, nil
}

func (c *Client) SetInstructions(ctx context.Context, courseLevel, instructions string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("prompt:%s", courseLevel), instructions, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set instruction cache: %w", err)
	}

	logger.Debug("Instructions cached", zap.String("course_level", courseLevel))
	return nil
}

func (c *Client) GetInstructions(ctx context.Context, courseLevel string) (string, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("prompt:%s", courseLevel)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get instruction cache: %w", err)
	}

	logger.Debug("Instruction cache hit", zap.String("course_level", courseLevel))
	return val, true, nil
}

// InvalidateInstructions drops cached prompts after an admin update.
func (c *Client) InvalidateInstructions(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "prompt:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Instruction cache invalidated")
	return nil
}
