package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/store"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// stubRunner returns a canned result and records the inputs it was given.
type stubRunner struct {
	result  *workflow.RunResult
	err     error
	history []workflow.ConversationMessage
	calls   int
}

func (s *stubRunner) RunWithProgress(_ context.Context, question string, history []workflow.ConversationMessage, onProgress workflow.ProgressCallback) (*workflow.RunResult, error) {
	s.calls++
	s.history = history
	if onProgress != nil {
		onProgress(workflow.Progress{Stage: workflow.StageDiscover})
		onProgress(workflow.Progress{Stage: workflow.StageFinalize})
	}
	if s.err != nil {
		return nil, s.err
	}
	result := *s.result
	result.Question = question
	return &result, nil
}

func newTestServer(t *testing.T, runner Runner, exportDir string) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory(clockwork.NewFakeClock())
	srv, err := New(Config{
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Engine:    runner,
		Store:     st,
		ExportDir: exportDir,
	})
	require.NoError(t, err)
	return srv, st
}

func postAsk(t *testing.T, srv *Server, path, sessionID, question string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(AskRequest{SessionID: sessionID, Question: question})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleAsk(t *testing.T) {
	runner := &stubRunner{result: &workflow.RunResult{
		Answer:   "42 requests total.",
		Query:    "FROM logs-1 | STATS c = COUNT()",
		Columns:  []string{"c"},
		Rows:     [][]any{{float64(42)}},
		RowCount: 1,
	}}
	srv, st := newTestServer(t, runner, "")

	rec := postAsk(t, srv, "/api/ask", "sess-1", "how many requests?")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "42 requests total.", resp.Answer)
	require.Equal(t, 1, resp.RowCount)

	// Driver persisted the run and both conversation turns.
	run, err := st.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)
	history, err := st.History(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "assistant", history[1].Role)
}

func TestHandleAskFeedsHistoryIntoRun(t *testing.T) {
	runner := &stubRunner{result: &workflow.RunResult{Answer: "ok"}}
	srv, st := newTestServer(t, runner, "")

	require.NoError(t, st.AppendMessage(context.Background(), "sess-1", "user", "earlier question"))
	require.NoError(t, st.AppendMessage(context.Background(), "sess-1", "assistant", "earlier answer"))

	rec := postAsk(t, srv, "/api/ask", "sess-1", "follow-up")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.history, 2, "prior turns reach the engine")
}

func TestHandleAskValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{result: &workflow.RunResult{}}, "")

	rec := postAsk(t, srv, "/api/ask", "sess-1", "   ")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader("{not json"))
	out := httptest.NewRecorder()
	srv.Router().ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestHandleAskRunFailure(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("tool list_indices failed: connection refused")}
	srv, _ := newTestServer(t, runner, "")

	rec := postAsk(t, srv, "/api/ask", "sess-1", "q")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestHandleAskStream(t *testing.T) {
	runner := &stubRunner{result: &workflow.RunResult{Answer: "streamed"}}
	srv, _ := newTestServer(t, runner, "")

	rec := postAsk(t, srv, "/api/ask/stream", "sess-1", "q")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "event: stage")
	require.Contains(t, body, string(workflow.StageDiscover))
	require.Contains(t, body, "event: result")
	require.Contains(t, body, "streamed")
}

func TestHandleDownloadExport(t *testing.T) {
	dir := t.TempDir()
	name := "query_result_20260314_092653_abcd1234.csv"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("a,b\n1,2\n"), 0o644))

	srv, _ := newTestServer(t, &stubRunner{result: &workflow.RunResult{}}, dir)

	req := httptest.NewRequest(http.MethodGet, "/api/exports/"+name, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a,b\n1,2\n", rec.Body.String())

	bad := httptest.NewRequest(http.MethodGet, "/api/exports/secrets.txt", nil)
	out := httptest.NewRecorder()
	srv.Router().ServeHTTP(out, bad)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestSanitizeRows(t *testing.T) {
	rows := sanitizeRows([][]any{{1.5, "ok"}, {math.NaN(), "x"}})
	require.Equal(t, 1.5, rows[0][0])
	require.Nil(t, rows[1][0], "NaN becomes nil")
}
