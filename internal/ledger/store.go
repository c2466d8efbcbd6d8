// Package ledger persists delegation runs as a JSON array in one file.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"orchestra/internal/logging"
	"orchestra/internal/summary"
)

// MaxRuns is the retention cap applied on every write.
const MaxRuns = 50

var ErrRunNotFound = errors.New("run not found")

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the persisted projection of one run.
type Record struct {
	RunID            string               `json:"run_id"`
	Task             string               `json:"task"`
	Primary          string               `json:"primary"`
	Secondary        string               `json:"secondary"`
	StartedAt        time.Time            `json:"started_at"`
	Status           Status               `json:"status"`
	PrimarySession   string               `json:"primary_session"`
	SecondarySession string               `json:"secondary_session"`
	Cleanup          bool                 `json:"cleanup"`
	FollowMode       bool                 `json:"follow_mode"`
	Summary          *summary.TaskSummary `json:"summary"`
	CompletedAt      *time.Time           `json:"completed_at"`
}

// Store reads and rewrites the whole file on every operation. There is no
// cross-process lock; concurrent writers race and the last rename wins.
type Store struct {
	path   string
	logger *logging.Logger
	now    func() time.Time
}

func NewStore(path string, logger *logging.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.Category("ledger").With(map[string]string{"path": path}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Path() string {
	return s.path
}

// StartRun replaces any record with the same id and appends it as running.
func (s *Store) StartRun(record Record) error {
	if strings.TrimSpace(record.RunID) == "" {
		return errors.New("run id is required")
	}
	record.StartedAt = s.now()
	record.Status = StatusRunning
	record.Summary = nil
	record.CompletedAt = nil

	runs := s.read()
	kept := runs[:0]
	for _, entry := range runs {
		if entry.RunID != record.RunID {
			kept = append(kept, entry)
		}
	}
	kept = append(kept, record)
	return s.write(kept)
}

// CompleteRun sets the terminal status. An unknown id gets a minimal record
// so the completion is not lost.
func (s *Store) CompleteRun(runID string, status Status, taskSummary *summary.TaskSummary) error {
	now := s.now()
	runs := s.read()
	found := false
	for i := range runs {
		if runs[i].RunID != runID {
			continue
		}
		runs[i].Status = status
		runs[i].Summary = taskSummary
		runs[i].CompletedAt = &now
		found = true
		break
	}
	if !found {
		s.logger.Warn("completing unknown run", map[string]string{"run_id": runID})
		runs = append(runs, Record{
			RunID:       runID,
			StartedAt:   now,
			Status:      status,
			Cleanup:     true,
			Summary:     taskSummary,
			CompletedAt: &now,
		})
	}
	return s.write(runs)
}

// ListRuns returns runs newest first. A limit of zero or less returns all of them.
func (s *Store) ListRuns(limit int) []Record {
	runs := s.read()
	sortNewestFirst(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

func (s *Store) GetRun(runID string) (Record, error) {
	for _, entry := range s.read() {
		if entry.RunID == runID {
			return entry, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// read treats a missing, unreadable or malformed file as an empty ledger.
func (s *Store) read() []Record {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("run ledger unreadable", map[string]string{"error": err.Error()})
		}
		return []Record{}
	}
	var runs []Record
	if err := json.Unmarshal(payload, &runs); err != nil {
		s.logger.Warn("run ledger corrupt, starting empty", map[string]string{"error": err.Error()})
		return []Record{}
	}
	if runs == nil {
		runs = []Record{}
	}
	return runs
}

func (s *Store) write(runs []Record) error {
	if len(runs) > MaxRuns {
		sortNewestFirst(runs)
		runs = runs[:MaxRuns]
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	payload, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "runs-*.json")
	if err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()

	if _, err := tempFile.Write(payload); err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	if err := os.Chmod(tempName, 0o644); err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("write run ledger: %w", err)
	}
	s.logger.Debug("run ledger written", map[string]string{"records": fmt.Sprint(len(runs))})
	return nil
}

func sortNewestFirst(runs []Record) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
