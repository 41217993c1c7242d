package resources

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/storage/models"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

// matchThreshold is the minimum best score worth annotating an answer with.
const matchThreshold = 3

// categoryLabels are the activity labels compared between question and
// catalog entry.
var categoryLabels = []string{"実験", "工作", "アート", "科学", "観察"}

type CatalogStore interface {
	ListExperiments() ([]models.Experiment, error)
}

// Matcher decides whether a completed answer should be annotated with a
// supplementary experiment link.
type Matcher struct {
	store CatalogStore
}

func NewMatcher(store CatalogStore) *Matcher {
	return &Matcher{store: store}
}

// Match returns the formatted link message for the best-scoring catalog
// entry, or "" when nothing scores at or above the threshold.
func (m *Matcher) Match(question string) (string, error) {
	experiments, err := m.store.ListExperiments()
	if err != nil {
		return "", fmt.Errorf("failed to load experiments: %w", err)
	}

	questionLower := strings.ToLower(question)

	var bestMatch *models.Experiment
	highestScore := 0

	for i := range experiments {
		score := scoreExperiment(questionLower, experiments[i])
		// Strict greater-than: the first entry wins ties.
		if score > highestScore {
			highestScore = score
			bestMatch = &experiments[i]
		}
	}

	if bestMatch == nil || highestScore < matchThreshold {
		return "", nil
	}

	logger.Info("Relevant experiment found",
		zap.String("title", bestMatch.Title),
		zap.Int("score", highestScore),
	)

	return formatMessage(bestMatch), nil
}

func scoreExperiment(questionLower string, exp models.Experiment) int {
	score := 0

	if exp.Title != "" && strings.Contains(questionLower, strings.ToLower(exp.Title)) {
		score += 10
	}

	for _, keyword := range exp.Keywords {
		if strings.Contains(questionLower, strings.ToLower(keyword)) {
			score += 3
		}
	}

	if exp.Description != "" && strings.Contains(questionLower, strings.ToLower(exp.Description)) {
		score += 5
	}

	if exp.Category != "" {
		for _, label := range categoryLabels {
			if strings.Contains(questionLower, label) && strings.Contains(exp.Category, label) {
				score += 2
			}
		}
	}

	return score
}

func formatMessage(exp *models.Experiment) string {
	var b strings.Builder
	b.WriteString("\n\n")

	if exp.Title != "" {
		fmt.Fprintf(&b, "📚 %sについて、もっと詳しく知りたい方はこちら：\n", exp.Title)
	} else {
		b.WriteString("📚 詳しくはこちら：\n")
	}

	b.WriteString(exp.URL)
	return b.String()
}
