package models

import "time"

// UsageRecord is one row per user in the users table. UsageCount resets to 0
// and ResetDate advances to the first of the following month whenever the
// current time passes ResetDate; the reset happens before any limit check.
type UsageRecord struct {
	UserID      string     `json:"user_id"`
	CourseLevel string     `json:"course_level"`
	UsageCount  int        `json:"usage_count"`
	UsageLimit  int        `json:"usage_limit"`
	ResetDate   time.Time  `json:"reset_date"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastResetAt *time.Time `json:"last_reset_at,omitempty"`
}

// CoursePrompt holds the base system instructions for one course level.
// At most one row is authoritative per level; lookups take the first match.
type CoursePrompt struct {
	ID           string `json:"id"`
	CourseLevel  string `json:"course_level"`
	Instructions string `json:"instructions"`
}

// ContentItem is a retrievable document scored against extracted keywords.
type ContentItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Experiment is a catalog entry whose URL may be appended to an answer.
type Experiment struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	URL         string   `json:"url"`
}

// Conversation is an append-only transcript entry; never mutated after
// creation.
type Conversation struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	AudioLength    float64   `json:"audio_length"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
