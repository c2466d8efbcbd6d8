package tmuxsession

import (
	"context"
	"errors"
	"io"
	"time"
)

const minFollowInterval = 100 * time.Millisecond

// PaneSource is what a PaneStream polls.
type PaneSource interface {
	CapturePane(name string, pane, scrollback int) (PaneCapture, error)
	SessionExists(name string) (bool, error)
}

// PaneStream yields lines that are new or changed since the previous poll.
// Lines are compared by position, so output that scrolls the visible buffer
// is re-emitted. A stream is single-consumer and ends with io.EOF once the
// pane is dead or the session is gone; it cannot be restarted.
type PaneStream struct {
	source   PaneSource
	session  string
	pane     int
	interval time.Duration

	previous []string
	started  bool
	done     bool
	pending  error
}

func NewPaneStream(source PaneSource, session string, pane int, interval time.Duration) *PaneStream {
	if interval < minFollowInterval {
		interval = minFollowInterval
	}
	return &PaneStream{source: source, session: session, pane: pane, interval: interval}
}

// Next blocks until a non-empty batch of lines is available or the stream ends.
func (s *PaneStream) Next(ctx context.Context) ([]string, error) {
	for {
		if s.pending != nil {
			err := s.pending
			s.pending = nil
			return nil, err
		}
		if s.done {
			return nil, io.EOF
		}
		if s.started {
			if err := sleepContext(ctx, s.interval); err != nil {
				return nil, err
			}
			// Sessions usually vanish during the sleep when the agent exits.
			exists, err := s.source.SessionExists(s.session)
			if err != nil {
				s.done = true
				return nil, err
			}
			if !exists {
				s.done = true
				return nil, io.EOF
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.started = true

		capture, err := s.source.CapturePane(s.session, s.pane, 0)
		if err != nil {
			s.done = true
			if s.sessionGone(err) {
				return nil, io.EOF
			}
			return nil, err
		}
		batch := diffLines(s.previous, capture.Lines)
		s.previous = capture.Lines

		if capture.Dead {
			s.done = true
		} else if exists, err := s.source.SessionExists(s.session); err != nil {
			s.done = true
			s.pending = err
		} else if !exists {
			s.done = true
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

// sessionGone reports whether a capture failed only because the session ended.
func (s *PaneStream) sessionGone(err error) bool {
	if errors.Is(err, ErrSessionNotFound) {
		return true
	}
	exists, existsErr := s.source.SessionExists(s.session)
	return existsErr == nil && !exists
}

// diffLines returns lines of current that differ from the same index in previous.
func diffLines(previous, current []string) []string {
	var changed []string
	for index, line := range current {
		if index < len(previous) && previous[index] == line {
			continue
		}
		changed = append(changed, line)
	}
	return changed
}
