package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// Memory is an in-process Store for tests and single-node deployments
// without Postgres.
type Memory struct {
	clock clockwork.Clock

	mu       sync.Mutex
	runs     map[uuid.UUID]*Run
	bySess   map[string][]uuid.UUID
	messages map[string][]workflow.ConversationMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:    clock,
		runs:     map[uuid.UUID]*Run{},
		bySess:   map[string][]uuid.UUID{},
		messages: map[string][]workflow.ConversationMessage{},
	}
}

func (m *Memory) CreateRun(_ context.Context, sessionID, question string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := &Run{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    StatusRunning,
		Question:  question,
		StartedAt: m.clock.Now().UTC(),
	}
	m.runs[run.ID] = run
	m.bySess[sessionID] = append(m.bySess[sessionID], run.ID)
	copied := *run
	return &copied, nil
}

func (m *Memory) CompleteRun(_ context.Context, id uuid.UUID, result *workflow.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	now := m.clock.Now().UTC()
	run.Status = StatusCompleted
	run.Answer = result.Answer
	run.Query = result.Query
	run.RetryCount = result.RetryCount
	run.RowCount = result.RowCount
	run.ExecutionError = result.ExecutionError
	if result.Export != nil {
		run.ExportPath = result.Export.Path
	}
	run.CompletedAt = &now
	return nil
}

func (m *Memory) FailRun(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	now := m.clock.Now().UTC()
	run.Status = StatusFailed
	run.ExecutionError = errMsg
	run.CompletedAt = &now
	return nil
}

func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	copied := *run
	return &copied, nil
}

func (m *Memory) LatestRunForSession(_ context.Context, sessionID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.bySess[sessionID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("no runs for session %s", sessionID)
	}
	copied := *m.runs[ids[len(ids)-1]]
	return &copied, nil
}

func (m *Memory) History(_ context.Context, sessionID string, limit int) ([]workflow.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]workflow.ConversationMessage{}, msgs...), nil
}

func (m *Memory) AppendMessage(_ context.Context, sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[sessionID] = append(m.messages[sessionID], workflow.ConversationMessage{
		Role:    role,
		Content: content,
	})
	return nil
}

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
