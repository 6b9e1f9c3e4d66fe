// Package workflow implements the multi-stage query workflow: discover
// indices, select the relevant ones, fetch their mappings, generate a query,
// execute it with a preview/full dual path, repair on failure within a
// bounded retry budget, and synthesize a final answer.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/normalize"
)

// LLMClient is the interface for model completions.
type LLMClient interface {
	// Complete sends a completion request and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Toolset is the interface to the remote data platform. Every method returns
// the raw response payload; callers normalize it themselves.
type Toolset interface {
	ListIndices(ctx context.Context) ([]byte, error)
	GetIndexMapping(ctx context.Context, indices []string) ([]byte, error)
	ExecuteQuery(ctx context.Context, query string) ([]byte, error)
}

// Exporter persists a result set outside the workflow, typically as CSV.
type Exporter interface {
	Export(ctx context.Context, columns []string, rows [][]any) (*ExportResult, error)
}

// ExportResult describes a completed export.
type ExportResult struct {
	Path     string  `json:"path"`
	RowCount int     `json:"row_count"`
	SizeMB   float64 `json:"file_size_mb"`
}

// Config holds the engine's collaborators and limits. It is threaded in at
// construction and never mutated afterwards.
type Config struct {
	Logger   *slog.Logger
	LLM      LLMClient
	Tools    Toolset
	Exporter Exporter
	Prompts  *Prompts

	// MaxRetries bounds how many repair cycles a run may take.
	MaxRetries int
	// PreviewRowCap is the row limit applied to the model-facing execution.
	PreviewRowCap int
	// FullRowCeiling is the row limit applied to the export-facing execution.
	FullRowCeiling int
	// CSVRowThreshold is the row count above which results are exported.
	CSVRowThreshold int
	// FallbackIndexLimit bounds the default selection used when the model
	// picks nothing usable.
	FallbackIndexLimit int
}

const (
	DefaultMaxRetries         = 3
	DefaultPreviewRowCap      = 10
	DefaultFullRowCeiling     = 10000
	DefaultCSVRowThreshold    = 10
	DefaultFallbackIndexLimit = 5
)

// IndexSelection is the structured output contract for index selection.
type IndexSelection struct {
	Chosen    []string `json:"chosen"`
	Reasoning string   `json:"reasoning"`
}

// QueryPlan is the structured output contract for query generation. It is
// overwritten on every (re)generation.
type QueryPlan struct {
	QueryText      string   `json:"query_text"`
	Explanation    string   `json:"explanation"`
	ExpectedFields []string `json:"expected_fields"`
}

// ConversationMessage is a single turn of conversation history.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunState is the single mutable record threaded through one traversal.
// Stages only write the fields they own; branch predicates read it and
// nothing else.
type RunState struct {
	Question string
	Messages []ConversationMessage

	AvailableIndices     []string
	AvailableDataStreams []string
	SelectedIndices      []string

	// Mappings is nil until the fetch stage runs; non-nil (possibly empty)
	// afterwards, which keeps the mappings branch from firing twice.
	Mappings   map[string]normalize.FieldTree
	SchemaText string

	Plan        *QueryPlan
	PlanHistory []QueryPlan

	// ExecutionError reflects the preview execution outcome of the current
	// attempt. LastError and FailedQuery carry the previous attempt's
	// failure into the repair prompt.
	ExecutionError string
	LastError      string
	FailedQuery    string
	RetryCount     int

	PreviewRows normalize.Table
	FullRows    normalize.Table

	Export      *ExportResult
	FinalAnswer string

	Metrics RunMetrics
}

// RunMetrics accumulates collaborator call counts and timing for one run.
type RunMetrics struct {
	LLMCalls      int
	ToolCalls     int
	LLMDuration   time.Duration
	ToolDuration  time.Duration
	TotalDuration time.Duration
}

// RunResult is what a completed traversal hands back to the driver.
type RunResult struct {
	Question       string         `json:"question"`
	Answer         string         `json:"answer"`
	Query          string         `json:"query,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
	Columns        []string       `json:"columns,omitempty"`
	Rows           [][]any        `json:"rows,omitempty"`
	RowCount       int            `json:"row_count"`
	RetryCount     int            `json:"retry_count"`
	ExecutionError string         `json:"execution_error,omitempty"`
	Export         *ExportResult  `json:"export,omitempty"`
	Metrics        RunMetrics     `json:"-"`
}

// Progress is emitted at stage boundaries for streaming front ends.
type Progress struct {
	Stage Stage  `json:"stage"`
	Query string `json:"query,omitempty"`
	Rows  int    `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

// ProgressCallback receives progress notifications. May be nil.
type ProgressCallback func(Progress)
