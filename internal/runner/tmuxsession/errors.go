package tmuxsession

import (
	"errors"
	"fmt"
)

var (
	ErrSessionExists    = errors.New("session already exists")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotReady         = errors.New("session not ready")
	ErrInvalidPane      = errors.New("invalid pane index")
	ErrTerminalRequired = errors.New("an interactive terminal is required")
)

// DriverError is the single error kind for failed session-server interaction.
type DriverError struct {
	Op      string
	Session string
	Err     error
}

func (e *DriverError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Session == "" {
		return fmt.Sprintf("tmux %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tmux %s '%s': %v", e.Op, e.Session, e.Err)
}

func (e *DriverError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func driverError(op, session string, err error) error {
	if err == nil {
		return nil
	}
	var existing *DriverError
	if errors.As(err, &existing) {
		return err
	}
	return &DriverError{Op: op, Session: session, Err: err}
}
