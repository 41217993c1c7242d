package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/storage"
	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		course_level TEXT NOT NULL DEFAULT 'preschool',
		usage_count INTEGER NOT NULL DEFAULT 0,
		usage_limit INTEGER NOT NULL DEFAULT 300,
		reset_date INTEGER NOT NULL,
		last_used_at INTEGER,
		last_reset_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		course_level TEXT NOT NULL,
		instructions TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_level ON prompts(course_level);

	CREATE TABLE IF NOT EXISTS rag_content (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT,
		keywords TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rag_content_category ON rag_content(category);

	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		category TEXT,
		keywords TEXT,
		url TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		audio_length REAL NOT NULL DEFAULT 0,
		response_time_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) GetUsageRecord(userID string) (*models.UsageRecord, error) {
	query := `
		SELECT user_id, course_level, usage_count, usage_limit, reset_date, last_used_at, last_reset_at
		FROM users WHERE user_id = ?
	`

	var rec models.UsageRecord
	var resetDate int64
	var lastUsedAt, lastResetAt sql.NullInt64

	err := c.db.QueryRow(query, userID).Scan(
		&rec.UserID,
		&rec.CourseLevel,
		&rec.UsageCount,
		&rec.UsageLimit,
		&resetDate,
		&lastUsedAt,
		&lastResetAt,
	)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	rec.ResetDate = time.Unix(resetDate, 0)
	if lastUsedAt.Valid {
		t := time.Unix(lastUsedAt.Int64, 0)
		rec.LastUsedAt = &t
	}
	if lastResetAt.Valid {
		t := time.Unix(lastResetAt.Int64, 0)
		rec.LastResetAt = &t
	}

	return &rec, nil
}

func (c *Client) CreateUser(rec *models.UsageRecord) error {
	query := `
		INSERT INTO users (user_id, course_level, usage_count, usage_limit, reset_date)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		rec.UserID,
		rec.CourseLevel,
		rec.UsageCount,
		rec.UsageLimit,
		rec.ResetDate.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	logger.Info("User created", zap.String("user_id", rec.UserID))
	return nil
}

// ResetUsage zeroes the counter and advances the reset date.
func (c *Client) ResetUsage(userID string, resetDate, now time.Time) error {
	query := `UPDATE users SET usage_count = 0, reset_date = ?, last_reset_at = ? WHERE user_id = ?`

	_, err := c.db.Exec(query, resetDate.Unix(), now.Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}

	logger.Info("Usage counter reset",
		zap.String("user_id", userID),
		zap.Time("next_reset", resetDate),
	)
	return nil
}

// IncrementUsage bumps the counter by one if it is still under the limit.
// The guard lives in the UPDATE itself so two connections racing for the same
// user cannot both take the last slot. Returns false when the limit is hit.
func (c *Client) IncrementUsage(userID string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET usage_count = usage_count + 1, last_used_at = ?
		WHERE user_id = ? AND usage_count < usage_limit
	`

	res, err := c.db.Exec(query, now.Unix(), userID)
	if err != nil {
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

func (c *Client) GetPromptByLevel(courseLevel string) (*models.CoursePrompt, error) {
	query := `SELECT id, course_level, instructions FROM prompts WHERE course_level = ? LIMIT 1`

	var prompt models.CoursePrompt
	err := c.db.QueryRow(query, courseLevel).Scan(&prompt.ID, &prompt.CourseLevel, &prompt.Instructions)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}

	return &prompt, nil
}

func (c *Client) InsertPrompt(prompt *models.CoursePrompt) error {
	query := `
		INSERT INTO prompts (id, course_level, instructions)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			course_level = excluded.course_level,
			instructions = excluded.instructions
	`

	_, err := c.db.Exec(query, prompt.ID, prompt.CourseLevel, prompt.Instructions)
	if err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}

	return nil
}

func (c *Client) ListContent() ([]models.ContentItem, error) {
	query := `SELECT id, title, content, category, keywords FROM rag_content`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	return scanContentRows(rows)
}

func (c *Client) ListContentByCategory(category string) ([]models.ContentItem, error) {
	query := `SELECT id, title, content, category, keywords FROM rag_content WHERE category = ?`

	rows, err := c.db.Query(query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list content by category: %w", err)
	}
	defer rows.Close()

	return scanContentRows(rows)
}

func scanContentRows(rows *sql.Rows) ([]models.ContentItem, error) {
	var items []models.ContentItem
	for rows.Next() {
		var item models.ContentItem
		var category, keywordsJSON sql.NullString

		err := rows.Scan(&item.ID, &item.Title, &item.Content, &category, &keywordsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		item.Category = category.String
		if keywordsJSON.Valid {
			if err := json.Unmarshal([]byte(keywordsJSON.String), &item.Keywords); err != nil {
				logger.Warn("Invalid keywords column, dropping keywords",
					zap.String("content_id", item.ID),
					zap.Error(err),
				)
				item.Keywords = nil
			}
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (c *Client) InsertContent(item *models.ContentItem) error {
	keywordsJSON, _ := json.Marshal(item.Keywords)

	query := `
		INSERT INTO rag_content (id, title, content, category, keywords, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		item.ID,
		item.Title,
		item.Content,
		item.Category,
		string(keywordsJSON),
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}

	logger.Debug("Content inserted", zap.String("content_id", item.ID), zap.String("title", item.Title))
	return nil
}

func (c *Client) ListExperiments() ([]models.Experiment, error) {
	query := `SELECT id, title, description, category, keywords, url FROM experiments`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []models.Experiment
	for rows.Next() {
		var exp models.Experiment
		var description, category, keywordsJSON sql.NullString

		err := rows.Scan(&exp.ID, &exp.Title, &description, &category, &keywordsJSON, &exp.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		exp.Description = description.String
		exp.Category = category.String
		if keywordsJSON.Valid {
			if err := json.Unmarshal([]byte(keywordsJSON.String), &exp.Keywords); err != nil {
				logger.Warn("Invalid keywords column, dropping keywords",
					zap.String("experiment_id", exp.ID),
					zap.Error(err),
				)
				exp.Keywords = nil
			}
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

func (c *Client) InsertExperiment(exp *models.Experiment) error {
	keywordsJSON, _ := json.Marshal(exp.Keywords)

	query := `
		INSERT INTO experiments (id, title, description, category, keywords, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		exp.ID,
		exp.Title,
		exp.Description,
		exp.Category,
		string(keywordsJSON),
		exp.URL,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	logger.Debug("Experiment inserted", zap.String("experiment_id", exp.ID), zap.String("title", exp.Title))
	return nil
}

func (c *Client) InsertConversation(conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, question, answer, audio_length, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		conv.ID,
		conv.UserID,
		conv.Question,
		conv.Answer,
		conv.AudioLength,
		conv.ResponseTimeMS,
		conv.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	return nil
}

func (c *Client) GetConversationHistory(userID string, limit int) ([]models.Conversation, error) {
	query := `
		SELECT id, user_id, question, answer, audio_length, response_time_ms, created_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var responseTime sql.NullInt64
		var createdAt int64

		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Question, &conv.Answer, &conv.AudioLength, &responseTime, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		conv.ResponseTimeMS = responseTime.Int64
		conv.CreatedAt = time.Unix(createdAt, 0)
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}
