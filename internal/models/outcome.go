package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of replaying a single event.
type Outcome struct {
	Index  int    `json:"index"`
	Event  Event  `json:"event"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Summary aggregates the outcomes of one replay run.
type Summary struct {
	RunID     uuid.UUID     `json:"run_id"`
	SessionID string        `json:"session_id"`
	Total     int           `json:"total"`
	Applied   int           `json:"applied"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Outcomes  []Outcome     `json:"outcomes"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func NewSummary(sessionID string, total int) *Summary {
	return &Summary{
		RunID:     uuid.New(),
		SessionID: sessionID,
		Total:     total,
		Outcomes:  make([]Outcome, 0, total),
		StartedAt: time.Now(),
	}
}

func (s *Summary) Record(outcome Outcome) {
	s.Outcomes = append(s.Outcomes, outcome)
	switch outcome.Status {
	case StatusApplied:
		s.Applied++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// Complete reports whether every event of the log received an outcome.
func (s *Summary) Complete() bool {
	return len(s.Outcomes) == s.Total && s.Applied+s.Skipped+s.Failed == s.Total
}
