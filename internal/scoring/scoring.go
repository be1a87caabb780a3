// Package scoring rates stage output with an LLM.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/content-runs/internal/llm"
	"github.com/jonathan/content-runs/internal/prompts"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
)

const (
	// MaxContentChars bounds how much content is sent to the model.
	MaxContentChars = 2000
	// DefaultScore is used when no score can be read from the reply.
	DefaultScore   = 75
	maxSuggestions = 3
)

var (
	scorePattern      = regexp.MustCompile(`(?i)(\d+)/100|score[:\s"]+(\d+)`)
	suggestionPattern = regexp.MustCompile(`^\s*(?:\d+[.)]?|[-*•])\s+(.+)$`)
)

// Scorer scores content.
type Scorer struct {
	client llm.Client
}

// New creates a Scorer backed by client.
func New(client llm.Client) *Scorer {
	return &Scorer{client: client}
}

// Score rates content on 0..100 and returns improvement suggestions.
func (s *Scorer) Score(ctx context.Context, content, stageName string) (*types.ScoreContentResponse, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &tracking.ErrInvalidArgument{Field: "content", Message: "required"}
	}
	if stageName == "" {
		stageName = "Unknown"
	}

	prompt, err := prompts.Render("scoring.json", "score-content", map[string]string{
		"Stage":   stageName,
		"Content": Truncate(PlainText(content), MaxContentChars),
	})
	if err != nil {
		return nil, err
	}

	reply, err := s.client.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, &tracking.ErrUpstream{Cause: fmt.Errorf("failed to score content: %w", err)}
	}
	return ParseReply(reply), nil
}

// PlainText reduces HTML to its text. Input that is not HTML is returned
// with whitespace normalized.
func PlainText(content string) string {
	if !strings.Contains(content, "<") {
		return strings.TrimSpace(content)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.TrimSpace(content)
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Truncate cuts s to max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// ParseReply reads a model reply. JSON replies are decoded directly; anything
// else falls back to pattern extraction.
func ParseReply(reply string) *types.ScoreContentResponse {
	var parsed struct {
		Score       *float64 `json:"score"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(reply)), &parsed); err == nil {
		resp := &types.ScoreContentResponse{Suggestions: parsed.Suggestions}
		if parsed.Score != nil {
			resp.Score = clamp(int(*parsed.Score + 0.5))
		}
		if resp.Suggestions == nil {
			resp.Suggestions = []string{}
		}
		return resp
	}

	return &types.ScoreContentResponse{
		Score:       extractScore(reply),
		Suggestions: extractSuggestions(reply),
	}
}

func extractScore(text string) int {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return DefaultScore
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return DefaultScore
	}
	return clamp(n)
}

func extractSuggestions(text string) []string {
	suggestions := []string{}
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= 10 {
			continue
		}
		if m := suggestionPattern.FindStringSubmatch(line); m != nil {
			suggestions = append(suggestions, strings.TrimSpace(m[1]))
			if len(suggestions) == maxSuggestions {
				break
			}
		}
	}
	return suggestions
}

func clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}
