package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// AskResponse is the JSON result of a completed run.
type AskResponse struct {
	RunID          uuid.UUID              `json:"run_id"`
	Answer         string                 `json:"answer"`
	Query          string                 `json:"query,omitempty"`
	Explanation    string                 `json:"explanation,omitempty"`
	Columns        []string               `json:"columns,omitempty"`
	Rows           [][]any                `json:"rows,omitempty"`
	RowCount       int                    `json:"row_count"`
	RetryCount     int                    `json:"retry_count"`
	ExecutionError string                 `json:"execution_error,omitempty"`
	Export         *workflow.ExportResult `json:"export,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.Warn("server: failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeAsk(r *http.Request) (*AskRequest, error) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}
	return &req, nil
}

func toAskResponse(run uuid.UUID, result *workflow.RunResult) *AskResponse {
	return &AskResponse{
		RunID:          run,
		Answer:         result.Answer,
		Query:          result.Query,
		Explanation:    result.Explanation,
		Columns:        result.Columns,
		Rows:           sanitizeRows(result.Rows),
		RowCount:       result.RowCount,
		RetryCount:     result.RetryCount,
		ExecutionError: result.ExecutionError,
		Export:         result.Export,
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, run, err := s.runWorkflow(r.Context(), req.SessionID, req.Question, nil)
	if err != nil {
		s.cfg.Logger.Error("server: run failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "workflow failed: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toAskResponse(run.ID, result))
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sendEvent := func(eventType string, data any) {
		jsonData, err := json.Marshal(data)
		if err != nil {
			s.cfg.Logger.Warn("server: failed to marshal SSE event", "type", eventType, "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData)
		flusher.Flush()
	}

	result, run, err := s.runWorkflow(r.Context(), req.SessionID, req.Question, func(p workflow.Progress) {
		sendEvent("stage", p)
	})
	if err != nil {
		sendEvent("error", map[string]string{"error": err.Error()})
		return
	}
	sendEvent("result", toAskResponse(run.ID, result))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.cfg.Store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "name"))
	if name == "." || name == "/" || !strings.HasSuffix(name, ".csv") {
		s.writeError(w, http.StatusBadRequest, "invalid export name")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, filepath.Join(s.cfg.ExportDir, name))
}

// sanitizeRows replaces non-JSON-serializable values (Inf, NaN) with nil.
func sanitizeRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = make([]any, len(row))
		for j, v := range row {
			out[i][j] = sanitizeValue(v)
		}
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
	case float32:
		if math.IsInf(float64(val), 0) || math.IsNaN(float64(val)) {
			return nil
		}
	}
	return v
}
