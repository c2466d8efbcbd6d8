package orchestrator

import (
	"errors"

	"orchestra/internal/config"
)

var (
	ErrValidation   = errors.New("task description must be a single line message")
	ErrConflict     = errors.New("another delegation run appears to be active")
	ErrUnknownAgent = config.ErrUnknownAgent
	ErrSummarize    = errors.New("summarize output")
)
