// Package summary turns captured terminal text into a coarse task verdict.
package summary

import (
	"regexp"
	"strings"

	"orchestra/internal/buffer"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// DetailLines is the number of trailing lines kept in TaskSummary.Details.
const DetailLines = 10

type TaskSummary struct {
	Status        Status   `json:"status"`
	FilesModified int      `json:"files_modified"`
	Details       []string `json:"details"`
}

// Failure patterns are checked first: any match wins over a success marker.
var failurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`(?i)\bfailed\b`),
}

var successPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcompleted\b`),
	regexp.MustCompile(`✅`),
	regexp.MustCompile(`"event"\s*:\s*"task_completed"`),
}

var modifiedPattern = regexp.MustCompile(`modified:\s+(.+)`)

// Summarize classifies lines. An empty input yields StatusUnknown, zero files and no details.
func Summarize(lines []string) TaskSummary {
	joined := strings.Join(lines, "\n")

	status := StatusUnknown
	switch {
	case matchesAny(failurePatterns, joined):
		status = StatusFailed
	case matchesAny(successPatterns, joined):
		status = StatusCompleted
	}

	return TaskSummary{
		Status:        status,
		FilesModified: len(modifiedPattern.FindAllString(joined, -1)),
		Details:       details(lines),
	}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func details(lines []string) []string {
	if len(lines) == 0 {
		return []string{}
	}
	nonBlank := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonBlank = append(nonBlank, line)
		}
	}
	if len(nonBlank) > 0 {
		return buffer.Tail(nonBlank, DetailLines)
	}
	return buffer.Tail(lines, DetailLines)
}
