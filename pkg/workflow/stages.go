package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/normalize"
)

var limitPattern = regexp.MustCompile(`(?i)LIMIT\s+\d+`)

// capRowLimit rewrites the query's row limit, replacing an existing LIMIT
// clause or appending one when absent.
func capRowLimit(query string, limit int) string {
	query = strings.TrimSpace(query)
	if limitPattern.MatchString(query) {
		return limitPattern.ReplaceAllString(query, fmt.Sprintf("LIMIT %d", limit))
	}
	return fmt.Sprintf("%s | LIMIT %d", query, limit)
}

// callTool wraps a tool invocation with call accounting.
func (e *Engine) callTool(s *RunState, fn func() ([]byte, error)) ([]byte, error) {
	start := time.Now()
	raw, err := fn()
	s.Metrics.ToolDuration += time.Since(start)
	s.Metrics.ToolCalls++
	return raw, err
}

// callLLM wraps a model invocation with call accounting.
func (e *Engine) callLLM(ctx context.Context, s *RunState, userPrompt string) (string, error) {
	start := time.Now()
	response, err := e.cfg.LLM.Complete(ctx, e.cfg.Prompts.System, userPrompt)
	s.Metrics.LLMDuration += time.Since(start)
	s.Metrics.LLMCalls++
	return response, err
}

// discoverIndices populates the available index and data stream sets. A
// transport failure here is fatal: no useful state exists yet.
func (e *Engine) discoverIndices(ctx context.Context, s *RunState) error {
	raw, err := e.callTool(s, func() ([]byte, error) {
		return e.cfg.Tools.ListIndices(ctx)
	})
	if err != nil {
		return &ToolError{Tool: "list_indices", Err: err}
	}

	listing, err := normalize.ParseIndices(raw)
	var perr *normalize.ParseError
	switch {
	case err == nil:
	case errors.As(err, &perr):
		// Degraded listing: continue with an empty set.
		e.logWarn("workflow: discovery response unparseable", "error", err)
	default:
		return &ToolError{Tool: "list_indices", Err: err}
	}

	s.AvailableIndices = listing.Names
	s.AvailableDataStreams = listing.DataStreams
	e.logInfo("workflow: discovered indices",
		"indices", len(s.AvailableIndices),
		"dataStreams", len(s.AvailableDataStreams))
	return nil
}

// fallbackSelection is the deterministic default used when the model picks
// nothing usable: all available names sorted, capped at the configured limit.
func fallbackSelection(available []string, limit int) []string {
	sorted := append([]string{}, available...)
	sort.Strings(sorted)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// selectIndices asks the model which indices to query and validates the
// answer against the discovered set. Contract violations never fail the run;
// they fall back to the deterministic default.
func (e *Engine) selectIndices(ctx context.Context, s *RunState) error {
	available := append(append([]string{}, s.AvailableIndices...), s.AvailableDataStreams...)
	if len(available) == 0 {
		e.logWarn("workflow: no indices available to select from")
		return nil
	}

	prompt := render(e.cfg.Prompts.SelectIndices, map[string]string{
		"QUESTION": s.Question,
		"HISTORY":  formatHistory(s.Messages[:len(s.Messages)-1]),
		"INDICES":  strings.Join(available, "\n"),
	})

	response, err := e.callLLM(ctx, s, prompt)
	var selection *IndexSelection
	if err == nil {
		selection, err = parseSelection(response)
	}
	if err != nil {
		e.logWarn("workflow: index selection failed, using fallback", "error", err)
		s.SelectedIndices = fallbackSelection(available, e.cfg.FallbackIndexLimit)
		return nil
	}

	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	var chosen []string
	for _, name := range selection.Chosen {
		if !known[name] {
			e.logWarn("workflow: model selected unknown index, dropping", "index", name)
			continue
		}
		chosen = append(chosen, name)
	}
	if len(chosen) == 0 {
		e.logWarn("workflow: selection empty after validation, using fallback")
		chosen = fallbackSelection(available, e.cfg.FallbackIndexLimit)
	}

	s.SelectedIndices = chosen
	e.logInfo("workflow: selected indices",
		"indices", strings.Join(chosen, ","),
		"reasoning", selection.Reasoning)
	return nil
}

// fetchMappings retrieves field schemas for the selected indices. Runs at
// most once per run; Mappings is non-nil afterwards even on a degraded
// response so the branch predicate stays false.
func (e *Engine) fetchMappings(ctx context.Context, s *RunState) error {
	raw, err := e.callTool(s, func() ([]byte, error) {
		return e.cfg.Tools.GetIndexMapping(ctx, s.SelectedIndices)
	})
	if err != nil {
		return &ToolError{Tool: "get_index_mapping", Err: err}
	}

	trees, err := normalize.ParseMappings(raw)
	var perr *normalize.ParseError
	switch {
	case err == nil:
	case errors.As(err, &perr):
		e.logWarn("workflow: mapping response unparseable, continuing without schema", "error", err)
		s.Mappings = map[string]normalize.FieldTree{}
		return nil
	default:
		return &ToolError{Tool: "get_index_mapping", Err: err}
	}

	s.Mappings = trees
	s.SchemaText = normalize.FormatFields(normalize.Dedupe(trees))
	e.logInfo("workflow: fetched mappings", "indices", len(trees))
	return nil
}

// generateQuery produces (or regenerates) the query plan. When repair
// context is present the prompt carries the failing query and error; the
// contract is the same either way. A contract violation is escalated into
// the execution-error path so it flows through the retry branch.
func (e *Engine) generateQuery(ctx context.Context, s *RunState) error {
	repairContext := ""
	if s.LastError != "" {
		repairContext = "\n" + render(e.cfg.Prompts.RepairContext, map[string]string{
			"QUERY": s.FailedQuery,
			"ERROR": s.LastError,
		}) + "\n"
	}

	schema := s.SchemaText
	if schema == "" {
		schema = "(no schema available)"
	}
	prompt := render(e.cfg.Prompts.GenerateQuery, map[string]string{
		"QUESTION":       s.Question,
		"HISTORY":        formatHistory(s.Messages[:len(s.Messages)-1]),
		"INDICES":        strings.Join(s.SelectedIndices, ", "),
		"SCHEMA":         schema,
		"REPAIR_CONTEXT": repairContext,
	})

	response, err := e.callLLM(ctx, s, prompt)
	var plan *QueryPlan
	if err == nil {
		plan, err = parsePlan(response)
	}
	if err != nil {
		e.logWarn("workflow: query generation failed", "error", err)
		s.Plan = nil
		s.ExecutionError = fmt.Sprintf("query generation failed: %v", err)
		return nil
	}

	s.Plan = plan
	s.PlanHistory = append(s.PlanHistory, *plan)
	e.logInfo("workflow: generated query",
		"query", truncate(plan.QueryText, 200),
		"repair", repairContext != "")
	return nil
}

// executeQuery runs the dual execution strategy. The preview path decides
// success or failure for the attempt; the full path is best-effort
// enrichment for export and never sets the execution error.
func (e *Engine) executeQuery(ctx context.Context, s *RunState) error {
	if s.Plan == nil || strings.TrimSpace(s.Plan.QueryText) == "" {
		if s.ExecutionError == "" {
			s.ExecutionError = "no query was generated"
		}
		return nil
	}

	previewQuery := capRowLimit(s.Plan.QueryText, e.cfg.PreviewRowCap)
	raw, err := e.callTool(s, func() ([]byte, error) {
		return e.cfg.Tools.ExecuteQuery(ctx, previewQuery)
	})
	if err != nil {
		s.ExecutionError = (&ToolError{Tool: "execute_query", Err: err}).Error()
		e.logWarn("workflow: preview execution failed", "error", err, "retry", s.RetryCount)
		return nil
	}

	preview, err := normalize.ParseTable(raw)
	if err != nil {
		// Unparseable or backend-rejected: either way the query failed.
		s.ExecutionError = err.Error()
		e.logWarn("workflow: preview result unusable", "error", err, "retry", s.RetryCount)
		return nil
	}
	if len(preview.Rows) > e.cfg.PreviewRowCap {
		preview.Rows = preview.Rows[:e.cfg.PreviewRowCap]
	}
	s.PreviewRows = preview
	s.ExecutionError = ""
	e.logInfo("workflow: preview execution succeeded", "rows", len(preview.Rows))

	fullQuery := capRowLimit(s.Plan.QueryText, e.cfg.FullRowCeiling)
	raw, err = e.callTool(s, func() ([]byte, error) {
		return e.cfg.Tools.ExecuteQuery(ctx, fullQuery)
	})
	if err != nil {
		e.logWarn("workflow: full execution failed, proceeding with preview", "error", err)
		return nil
	}
	full, err := normalize.ParseTable(raw)
	if err != nil {
		e.logWarn("workflow: full result unusable, proceeding with preview", "error", err)
		return nil
	}
	if len(full.Rows) > e.cfg.FullRowCeiling {
		full.Rows = full.Rows[:e.cfg.FullRowCeiling]
	}
	s.FullRows = full
	e.logInfo("workflow: full execution succeeded", "rows", len(full.Rows))
	return nil
}

// repair charges one retry and moves the failure into prompt context for the
// next generation pass.
func (e *Engine) repair(_ context.Context, s *RunState) error {
	s.RetryCount++
	s.LastError = s.ExecutionError
	if s.Plan != nil {
		s.FailedQuery = s.Plan.QueryText
	}
	s.ExecutionError = ""
	e.logInfo("workflow: repairing query",
		"attempt", s.RetryCount,
		"maxRetries", e.cfg.MaxRetries,
		"error", s.LastError)
	return nil
}

// finalize produces the final answer, exporting the result set first when it
// is large enough. Exhausted retries degrade to an honest failure summary
// instead of aborting the run.
func (e *Engine) finalize(ctx context.Context, s *RunState) error {
	exhausted := s.ExecutionError != ""
	if exhausted {
		s.LastError = s.ExecutionError
		s.ExecutionError = ""
	} else {
		s.LastError = ""
	}

	query := ""
	if s.Plan != nil {
		query = s.Plan.QueryText
	}

	var prompt string
	if exhausted {
		prompt = render(e.cfg.Prompts.FinalizeDegraded, map[string]string{
			"QUESTION": s.Question,
			"QUERY":    query,
			"ERROR":    s.LastError,
			"ATTEMPTS": fmt.Sprintf("%d", s.RetryCount+1),
		})
	} else {
		exportNote := ""
		rows := s.FullRows
		if len(rows.Rows) == 0 {
			rows = s.PreviewRows
		}
		if len(rows.Rows) > e.cfg.CSVRowThreshold && e.cfg.Exporter != nil {
			columns := make([]string, len(rows.Columns))
			for i, col := range rows.Columns {
				columns[i] = col.Name
			}
			export, err := e.cfg.Exporter.Export(ctx, columns, rows.Rows)
			if err != nil {
				e.logWarn("workflow: export failed", "error", err)
			} else {
				s.Export = export
				exportNote = fmt.Sprintf("\nThe full result set (%d rows, %.2f MB) was exported to %s.\n",
					export.RowCount, export.SizeMB, export.Path)
				e.logInfo("workflow: exported results", "path", export.Path, "rows", export.RowCount)
			}
		}

		prompt = render(e.cfg.Prompts.Finalize, map[string]string{
			"QUESTION":    s.Question,
			"QUERY":       query,
			"RESULTS":     normalize.FormatTable(s.PreviewRows),
			"EXPORT_NOTE": exportNote,
		})
	}

	answer, err := e.callLLM(ctx, s, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			e.logWarn("workflow: answer synthesis failed, using fallback", "error", err)
		}
		answer = e.fallbackAnswer(s, exhausted)
	}

	s.FinalAnswer = answer
	return nil
}

// fallbackAnswer covers synthesis failure so the run always ends with a
// non-empty answer.
func (e *Engine) fallbackAnswer(s *RunState, exhausted bool) string {
	if exhausted {
		return fmt.Sprintf(
			"I was unable to answer the question: the query failed after %d attempts. Last error: %s",
			s.RetryCount+1, s.LastError)
	}
	answer := "The query executed successfully.\n\n" + normalize.FormatTable(s.PreviewRows)
	if s.Export != nil {
		answer += fmt.Sprintf("\n\nThe full result set (%d rows) was exported to %s.",
			s.Export.RowCount, s.Export.Path)
	}
	return answer
}

// truncate shortens a string for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
