// Package version exposes build metadata stamped with -ldflags.
package version

import (
	"strconv"
	"strings"
)

// Set at build time, e.g. -ldflags "-X orchestra/internal/version.Version=0.3.1".
var (
	Version   = "dev"
	Major     = "0"
	Minor     = "0"
	Patch     = "0"
	Built     = ""
	GitCommit = ""
)

type Info struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() Info {
	return Info{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders "orchestra <version>" followed by the short commit and build time when known.
func (i Info) String() string {
	parts := []string{"orchestra", i.Version}
	if commit := shortCommit(i.GitCommit); commit != "" {
		parts = append(parts, "("+commit+")")
	}
	if i.Built != "" {
		parts = append(parts, "built", i.Built)
	}
	return strings.Join(parts, " ")
}

func shortCommit(commit string) string {
	commit = strings.TrimSpace(commit)
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
