package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file": JSON Lines files next to Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one task execution.
type RunRecord struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Single     bool      `json:"single,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OK         bool      `json:"ok"`
	Panicked   bool      `json:"panicked,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Took is the wall time of the run.
func (r RunRecord) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// AlertRecord is a log event that crossed the alert threshold.
type AlertRecord struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Fields  string    `json:"fields,omitempty"` // JSON object
}

func ensureRunDefaults(r *RunRecord) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = r.StartedAt
	}
}

func ensureAlertDefaults(a *AlertRecord) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
}
