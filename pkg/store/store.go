// Package store persists workflow runs and per-session conversation
// history. The run driver uses it around a traversal; the engine itself
// never touches it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// Run is one persisted workflow execution.
type Run struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"` // running, completed, failed
	Question       string     `json:"question"`
	Answer         string     `json:"answer,omitempty"`
	Query          string     `json:"query,omitempty"`
	RetryCount     int        `json:"retry_count"`
	RowCount       int        `json:"row_count"`
	ExecutionError string     `json:"execution_error,omitempty"`
	ExportPath     string     `json:"export_path,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store is the persistence interface used by the run driver.
type Store interface {
	// CreateRun records the start of a traversal.
	CreateRun(ctx context.Context, sessionID, question string) (*Run, error)
	// CompleteRun records a terminal result.
	CompleteRun(ctx context.Context, id uuid.UUID, result *workflow.RunResult) error
	// FailRun records a run that aborted before producing a result.
	FailRun(ctx context.Context, id uuid.UUID, errMsg string) error
	// GetRun returns one run by id.
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	// LatestRunForSession returns the most recent run in a session.
	LatestRunForSession(ctx context.Context, sessionID string) (*Run, error)

	// History returns up to limit prior conversation turns, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]workflow.ConversationMessage, error)
	// AppendMessage adds one turn to a session's history.
	AppendMessage(ctx context.Context, sessionID, role, content string) error

	Close()
}
