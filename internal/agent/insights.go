package agent

import (
	"math"
	"regexp"
	"strings"
)

const (
	maxInsights     = 5
	minInsightLen   = 20
	maxSourceCount  = 20
	fullLengthWords = 800
)

var urlPattern = regexp.MustCompile(`https?://[^\s)\]>"']+`)

// ExtractKeyInsights pulls a best-effort list of insight lines out of an
// analysis. The extraction only fires when the text carries structured
// finding markers; otherwise the list is empty.
func ExtractKeyInsights(analysis string) []string {
	if !strings.Contains(analysis, "**Finding") && !strings.Contains(analysis, "## Key Findings") {
		return nil
	}

	var insights []string
	for _, line := range strings.Split(analysis, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) <= minInsightLen {
			continue
		}
		insights = append(insights, trimmed)
		if len(insights) == maxInsights {
			break
		}
	}
	return insights
}

// ExtractSources harvests distinct URLs from research output, preserving
// first-seen order.
func ExtractSources(research string) []string {
	matches := urlPattern.FindAllString(research, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var sources []string
	for _, m := range matches {
		url := strings.TrimRight(m, ".,;:")
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		sources = append(sources, url)
		if len(sources) == maxSourceCount {
			break
		}
	}
	return sources
}

// ScoreArticle assigns a heuristic quality score in [0, 10] from article
// length, heading structure, and paragraph breaks. Empty input scores 0.
func ScoreArticle(article string) float64 {
	words := len(strings.Fields(article))
	if words == 0 {
		return 0
	}

	// Up to 5 points for length, saturating at fullLengthWords.
	score := 5 * math.Min(float64(words)/fullLengthWords, 1)

	headings := 0
	for _, line := range strings.Split(article, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			headings++
		}
	}
	score += math.Min(0.5*float64(headings), 3)

	if strings.Count(article, "\n\n") >= 3 {
		score += 2
	}

	return math.Round(score*10) / 10
}
