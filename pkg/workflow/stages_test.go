package workflow

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapRowLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		limit int
		want  string
	}{
		{"replaces existing limit", "FROM logs-1 | LIMIT 100", 10, "FROM logs-1 | LIMIT 10"},
		{"replaces lowercase limit", "FROM logs-1 | limit 50", 10, "FROM logs-1 | LIMIT 10"},
		{"appends when absent", "FROM logs-1 | STATS c = COUNT()", 10, "FROM logs-1 | STATS c = COUNT() | LIMIT 10"},
		{"raises for full execution", "FROM logs-1 | LIMIT 10", 10000, "FROM logs-1 | LIMIT 10000"},
		{"trims whitespace", "  FROM logs-1  ", 10, "FROM logs-1 | LIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capRowLimit(tt.query, tt.limit); got != tt.want {
				t.Fatalf("capRowLimit(%q, %d) = %q, want %q", tt.query, tt.limit, got, tt.want)
			}
		})
	}
}

func TestFallbackSelection(t *testing.T) {
	available := []string{"zeta", "alpha", "mid", "beta", "omega", "gamma", "delta"}

	got := fallbackSelection(available, 5)
	want := []string{"alpha", "beta", "delta", "gamma", "mid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallbackSelection() = %v, want %v", got, want)
	}

	small := fallbackSelection([]string{"b", "a"}, 5)
	if !reflect.DeepEqual(small, []string{"a", "b"}) {
		t.Fatalf("fallbackSelection(small) = %v", small)
	}
}

func TestSelectIndicesDropsUnknownNames(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"chosen":["logs-1","made-up"],"reasoning":"guess"}`}}
	engine := newTestEngine(t, llm, &fakeTools{}, nil)

	state := &RunState{
		Question:         "q",
		Messages:         []ConversationMessage{{Role: "user", Content: "q"}},
		AvailableIndices: []string{"logs-1", "logs-2"},
	}
	require.NoError(t, engine.selectIndices(context.Background(), state))
	require.Equal(t, []string{"logs-1"}, state.SelectedIndices)
}

func TestSelectIndicesFallsBackOnGarbageOutput(t *testing.T) {
	llm := &fakeLLM{responses: []string{"sure, I'd pick logs-1"}}
	engine := newTestEngine(t, llm, &fakeTools{}, nil)

	state := &RunState{
		Question:         "q",
		Messages:         []ConversationMessage{{Role: "user", Content: "q"}},
		AvailableIndices: []string{"logs-2", "logs-1"},
	}
	require.NoError(t, engine.selectIndices(context.Background(), state))
	require.Equal(t, []string{"logs-1", "logs-2"}, state.SelectedIndices, "deterministic sorted fallback")
}

func TestFinalizeWithExhaustedRetries(t *testing.T) {
	llm := &fakeLLM{responses: []string{""}}
	engine := newTestEngine(t, llm, &fakeTools{}, nil)

	state := &RunState{
		Question:       "q",
		Messages:       []ConversationMessage{{Role: "user", Content: "q"}},
		ExecutionError: "Unknown column [clientip]",
		RetryCount:     3,
		Plan:           &QueryPlan{QueryText: "FROM logs-1"},
	}
	require.False(t, shouldRetry(state, DefaultMaxRetries))

	require.NoError(t, engine.finalize(context.Background(), state))
	require.NotEmpty(t, state.FinalAnswer)
	require.Contains(t, state.FinalAnswer, "Unknown column [clientip]")
	require.Empty(t, state.ExecutionError, "error is recorded, not left pending alongside the answer")
	require.Equal(t, "Unknown column [clientip]", state.LastError)
}

func TestRepairChargesOneRetryAndClearsError(t *testing.T) {
	engine := newTestEngine(t, &fakeLLM{}, &fakeTools{}, nil)
	state := &RunState{
		ExecutionError: "boom",
		Plan:           &QueryPlan{QueryText: "FROM logs-1 | LIMIT 5"},
	}

	require.NoError(t, engine.repair(context.Background(), state))
	require.Equal(t, 1, state.RetryCount)
	require.Empty(t, state.ExecutionError)
	require.Equal(t, "boom", state.LastError)
	require.Equal(t, "FROM logs-1 | LIMIT 5", state.FailedQuery)
}

func TestGenerateQueryEscalatesContractViolation(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"explanation":"no query field"}`}}
	engine := newTestEngine(t, llm, &fakeTools{}, nil)

	state := &RunState{
		Question: "q",
		Messages: []ConversationMessage{{Role: "user", Content: "q"}},
	}
	require.NoError(t, engine.generateQuery(context.Background(), state))
	require.Nil(t, state.Plan)
	require.NotEmpty(t, state.ExecutionError, "contract violation flows through the retry branch")
}

func TestParseContracts(t *testing.T) {
	sel, err := parseSelection("```json\n" + selectionResponse + "\n```")
	require.NoError(t, err)
	require.Equal(t, []string{"logs-1"}, sel.Chosen)

	plan, err := parsePlan("Here is the plan: " + planResponse)
	require.NoError(t, err)
	require.Contains(t, plan.QueryText, "FROM logs-1")
	require.Equal(t, []string{"client_ip", "count"}, plan.ExpectedFields)

	_, err = parsePlan(`{"query_text":"  "}`)
	var merr *ModelOutputError
	require.ErrorAs(t, err, &merr)
}
