// Package router classifies task text into a coarse category used to pick a secondary agent.
package router

import "strings"

// Group is a named set of keywords.
type Group struct {
	Name     string
	Keywords []string
}

// Groups are evaluated in order; the first group with a matching keyword wins.
// A task mentioning both "css" and "commit" is therefore "frontend".
var Groups = []Group{
	{Name: "frontend", Keywords: []string{"react", "component", "frontend", "tailwind", "css", "ui"}},
	{Name: "backend", Keywords: []string{"api", "endpoint", "fastapi", "database", "crud", "schema", "model"}},
	{Name: "git", Keywords: []string{"commit", "merge", "branch", "rebase"}},
}

// DefaultRouting maps categories to their preferred agents.
var DefaultRouting = map[string]string{
	"frontend": "cursor",
	"backend":  "droid",
	"git":      "aider",
}

// DetectCategory returns the first matching group name. Keywords match as substrings
// of the lower-cased task, so "ui" also matches "build".
func DetectCategory(task string) (string, bool) {
	lowered := strings.ToLower(task)
	for _, group := range Groups {
		for _, keyword := range group.Keywords {
			if strings.Contains(lowered, keyword) {
				return group.Name, true
			}
		}
	}
	return "", false
}
