// Package observability provides formatted output utilities for operator CLI commands.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/content-runs/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxSuggestionsToShow caps the suggestions listed under a score
	maxSuggestionsToShow = 3
)

// Printer handles formatted output for operator commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if n := len([]rune(line)); n > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func stageMarker(status types.StageStatus) string {
	switch status {
	case types.StageCompleted:
		return "✓"
	case types.StageFailed:
		return "✗"
	case types.StageRunning:
		return "▶"
	default:
		return "·"
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// PrintRunDetail outputs the run header followed by its stages in order.
func (p *Printer) PrintRunDetail(detail *types.RunDetail) {
	if detail == nil || detail.Run == nil {
		return
	}
	run := detail.Run

	var sb strings.Builder
	if detail.Request != nil {
		sb.WriteString(fmt.Sprintf("Request:   %s\n", detail.Request.ArticleTitle))
		if detail.Request.ClientName != "" {
			sb.WriteString(fmt.Sprintf("Client:    %s\n", detail.Request.ClientName))
		}
	}
	sb.WriteString(fmt.Sprintf("Status:    %s\n", run.Status))
	sb.WriteString(fmt.Sprintf("Progress:  %d/%d stages\n", run.CompletedStages, run.TotalStages))
	if run.CurrentStage != "" {
		sb.WriteString(fmt.Sprintf("Current:   %s\n", run.CurrentStage))
	}
	if run.ExternalExecutionID != nil {
		sb.WriteString(fmt.Sprintf("Execution: %s\n", *run.ExternalExecutionID))
	}
	createdAt := run.CreatedAt
	sb.WriteString(fmt.Sprintf("Created:   %s\n", formatTime(&createdAt)))
	sb.WriteString(fmt.Sprintf("Finished:  %s", formatTime(run.CompletedAt)))

	p.printBox("RUN "+run.ID.String(), sb.String())
	p.PrintStages(detail.Stages)
}

// PrintStages outputs one line per stage with its status marker and duration.
// Failed stages carry their error on the following line.
func (p *Printer) PrintStages(stages []types.Stage) {
	if len(stages) == 0 {
		return
	}

	var sb strings.Builder
	for i, st := range stages {
		sb.WriteString(fmt.Sprintf("[%s] %02d %s", stageMarker(st.Status), st.StageOrder, st.StageName))
		if st.DurationMs != nil {
			sb.WriteString(fmt.Sprintf(" (%s)", (time.Duration(*st.DurationMs) * time.Millisecond).String()))
		}
		if st.Status == types.StageFailed && st.ErrorMessage != nil {
			sb.WriteString(fmt.Sprintf("\n      %s", *st.ErrorMessage))
		}
		if i < len(stages)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("STAGES", sb.String())
}

// PrintScore outputs a content score and its top suggestions.
func (p *Printer) PrintScore(stageName string, score *types.ScoreContentResponse) {
	if score == nil {
		return
	}

	var sb strings.Builder
	if stageName != "" {
		sb.WriteString(fmt.Sprintf("Stage: %s\n", stageName))
	}
	sb.WriteString(fmt.Sprintf("Score: %d/100", score.Score))

	if len(score.Suggestions) > 0 {
		sb.WriteString("\n\nSuggestions:")
		count := min(len(score.Suggestions), maxSuggestionsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("\n  • %s", score.Suggestions[i]))
		}
	}

	p.printBox("CONTENT SCORE", sb.String())
}
