package workflow

import (
	"context"
	"fmt"
	"time"
)

// Stage identifies one unit of work in the graph. The next stage is always
// computed from Run State by nextStage, never chosen inside a stage.
type Stage string

const (
	StageDiscover      Stage = "discover_indices"
	StageSelect        Stage = "select_indices"
	StageFetchMappings Stage = "fetch_mappings"
	StageGenerate      Stage = "generate_query"
	StageExecute       Stage = "execute_query"
	StageRepair        Stage = "repair"
	StageFinalize      Stage = "finalize"
	StageDone          Stage = "done"
)

// maxStageVisits is a hard guard against transition bugs. The longest legal
// traversal is the linear backbone plus MaxRetries repair cycles.
const maxStageVisits = 32

// Engine drives one run through the stage graph.
type Engine struct {
	cfg *Config
}

// New validates the configuration and applies defaults.
func New(cfg *Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("toolset is required")
	}
	if cfg.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		cfg.Prompts = prompts
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PreviewRowCap == 0 {
		cfg.PreviewRowCap = DefaultPreviewRowCap
	}
	if cfg.FullRowCeiling == 0 {
		cfg.FullRowCeiling = DefaultFullRowCeiling
	}
	if cfg.CSVRowThreshold == 0 {
		cfg.CSVRowThreshold = DefaultCSVRowThreshold
	}
	if cfg.FallbackIndexLimit == 0 {
		cfg.FallbackIndexLimit = DefaultFallbackIndexLimit
	}
	return &Engine{cfg: cfg}, nil
}

// logInfo logs an info message if a logger is configured.
func (e *Engine) logInfo(msg string, args ...any) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(msg, args...)
	}
}

// logWarn logs a warning if a logger is configured.
func (e *Engine) logWarn(msg string, args ...any) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Warn(msg, args...)
	}
}

// needsMappings reports whether the mapping fetch stage should run. Once
// mappings are set (even to an empty map) it stays false for the rest of the
// run, so mappings are fetched at most once regardless of retries.
func needsMappings(s *RunState) bool {
	return len(s.SelectedIndices) > 0 && s.Mappings == nil
}

// shouldRetry reports whether the repair branch should be taken.
func shouldRetry(s *RunState, maxRetries int) bool {
	return s.ExecutionError != "" && s.RetryCount < maxRetries
}

// nextStage computes the following stage purely from Run State.
func nextStage(cur Stage, s *RunState, cfg *Config) Stage {
	switch cur {
	case StageDiscover:
		return StageSelect
	case StageSelect:
		if needsMappings(s) {
			return StageFetchMappings
		}
		return StageGenerate
	case StageFetchMappings:
		return StageGenerate
	case StageGenerate:
		return StageExecute
	case StageExecute:
		if shouldRetry(s, cfg.MaxRetries) {
			return StageRepair
		}
		return StageFinalize
	case StageRepair:
		return StageGenerate
	case StageFinalize:
		return StageDone
	default:
		return StageDone
	}
}

// Run executes the full workflow for a user question.
func (e *Engine) Run(ctx context.Context, question string) (*RunResult, error) {
	return e.RunWithProgress(ctx, question, nil, nil)
}

// RunWithHistory executes the workflow with conversation context.
func (e *Engine) RunWithHistory(ctx context.Context, question string, history []ConversationMessage) (*RunResult, error) {
	return e.RunWithProgress(ctx, question, history, nil)
}

// RunWithProgress executes the workflow with progress callbacks. The only
// errors returned are cancellation and transport failures at the discovery
// and mapping stages; everything else is folded into state and surfaces in
// the result.
func (e *Engine) RunWithProgress(ctx context.Context, question string, history []ConversationMessage, onProgress ProgressCallback) (*RunResult, error) {
	startTime := time.Now()

	state := &RunState{
		Question: question,
		Messages: append(append([]ConversationMessage{}, history...), ConversationMessage{
			Role:    "user",
			Content: question,
		}),
	}

	notify := func(stage Stage) {
		if onProgress != nil {
			p := Progress{Stage: stage, Error: state.ExecutionError}
			if state.Plan != nil {
				p.Query = state.Plan.QueryText
			}
			onProgress(p)
		}
	}

	e.logInfo("workflow: starting run", "question", question)

	stage := StageDiscover
	for visits := 0; stage != StageDone; visits++ {
		if visits >= maxStageVisits {
			return nil, fmt.Errorf("stage visit guard tripped at %s", stage)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		notify(stage)

		var err error
		switch stage {
		case StageDiscover:
			err = e.discoverIndices(ctx, state)
		case StageSelect:
			err = e.selectIndices(ctx, state)
		case StageFetchMappings:
			err = e.fetchMappings(ctx, state)
		case StageGenerate:
			err = e.generateQuery(ctx, state)
		case StageExecute:
			err = e.executeQuery(ctx, state)
		case StageRepair:
			err = e.repair(ctx, state)
		case StageFinalize:
			err = e.finalize(ctx, state)
		}
		if err != nil {
			return nil, err
		}

		stage = nextStage(stage, state, e.cfg)
	}

	state.Metrics.TotalDuration = time.Since(startTime)
	state.Messages = append(state.Messages, ConversationMessage{
		Role:    "assistant",
		Content: state.FinalAnswer,
	})

	result := e.buildResult(state)
	notify(StageDone)
	e.logInfo("workflow: complete",
		"retries", state.RetryCount,
		"rows", result.RowCount,
		"exported", result.Export != nil,
		"duration", state.Metrics.TotalDuration)
	return result, nil
}

// buildResult converts terminal Run State into the driver-facing result.
func (e *Engine) buildResult(s *RunState) *RunResult {
	result := &RunResult{
		Question:       s.Question,
		Answer:         s.FinalAnswer,
		RetryCount:     s.RetryCount,
		ExecutionError: s.LastError,
		Export:         s.Export,
		Metrics:        s.Metrics,
	}
	if s.Plan != nil {
		result.Query = s.Plan.QueryText
		result.Explanation = s.Plan.Explanation
	}

	rows := s.FullRows
	if len(rows.Rows) == 0 {
		rows = s.PreviewRows
	}
	for _, col := range rows.Columns {
		result.Columns = append(result.Columns, col.Name)
	}
	result.Rows = s.PreviewRows.Rows
	result.RowCount = len(rows.Rows)
	return result
}
