package rag

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kodomolab/voice-relay/internal/storage/models"
)

// Punctuation stripped before tokenization. Questions arrive from speech
// transcription, so the set is the marks the transcriber emits.
var punctuationReplacer = strings.NewReplacer(
	"？", " ",
	"！", " ",
	"。", " ",
	"、", " ",
	"，", " ",
)

// Particles that carry no retrieval signal on their own.
var stopWords = map[string]struct{}{
	"は": {}, "が": {}, "を": {}, "に": {}, "で": {}, "と": {},
	"の": {}, "や": {}, "か": {}, "も": {},
	"から": {}, "まで": {}, "より": {},
}

// ExtractKeywords tokenizes a transcribed question: strip punctuation,
// lowercase, split on whitespace, drop single-rune tokens and stop words.
func ExtractKeywords(query string) []string {
	cleaned := strings.ToLower(strings.TrimSpace(punctuationReplacer.Replace(query)))

	var keywords []string
	for _, word := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(word) <= 1 {
			continue
		}
		if _, ok := stopWords[word]; ok {
			continue
		}
		keywords = append(keywords, word)
	}

	return keywords
}

// ScoredItem pairs a content item with its lexical overlap score.
type ScoredItem struct {
	Item  models.ContentItem
	Score int
}

// ScoreItem computes the lexical overlap between the keywords and one item.
// Title matches weigh most, then explicit keyword matches, then body
// occurrences (every non-overlapping occurrence counts), then category.
func ScoreItem(keywords []string, item models.ContentItem) int {
	title := strings.ToLower(item.Title)
	content := strings.ToLower(item.Content)
	category := strings.ToLower(item.Category)

	score := 0
	for _, keyword := range keywords {
		if strings.Contains(title, keyword) {
			score += 5
		}

		for _, k := range item.Keywords {
			if strings.Contains(strings.ToLower(k), keyword) {
				score += 4
				break
			}
		}

		score += strings.Count(content, keyword) * 2

		if strings.Contains(category, keyword) {
			score += 3
		}
	}

	return score
}

// RankContent scores every item, drops zero scores and returns the topK in
// descending score order. The sort is stable so equal scores keep store
// order.
func RankContent(keywords []string, items []models.ContentItem, topK int) []ScoredItem {
	var results []ScoredItem
	for _, item := range items {
		if score := ScoreItem(keywords, item); score > 0 {
			results = append(results, ScoredItem{Item: item, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results
}
