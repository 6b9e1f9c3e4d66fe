package normalize

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// wrapN wraps a JSON payload in n layers of text envelopes, the way tool
// responses arrive over the wire.
func wrapN(t *testing.T, inner string, n int) []byte {
	t.Helper()
	cur := inner
	for i := 0; i < n; i++ {
		env := map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": cur},
			},
		}
		b, err := json.Marshal(env)
		require.NoError(t, err)
		cur = string(b)
	}
	return []byte(cur)
}

const tabularPayload = `{"results":[{"type":"tabular_data","data":{` +
	`"columns":[{"name":"client_ip","type":"keyword"},{"name":"count","type":"long"}],` +
	`"values":[["10.0.0.1",42],["10.0.0.2",17]],` +
	`"query":"FROM logs-1 | STATS count = COUNT() BY client_ip"}}]}`

func TestParseTableNestedEnvelopes(t *testing.T) {
	want, err := ParseTable([]byte(tabularPayload))
	require.NoError(t, err)
	require.Len(t, want.Rows, 2)

	for n := 1; n <= 3; n++ {
		got, err := ParseTable(wrapN(t, tabularPayload, n))
		require.NoError(t, err, "depth %d", n)
		require.Equal(t, want, got, "depth %d", n)
	}

	_, err = ParseTable(wrapN(t, tabularPayload, 4))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseTableErrorEnvelope(t *testing.T) {
	raw := wrapN(t, `{"results":[{"type":"error","data":{"message":"Unknown column [clientip]"}}]}`, 1)
	_, err := ParseTable(raw)
	var terr *ToolResultError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "Unknown column [clientip]", terr.Message)
}

func TestParseTableNoTabularResult(t *testing.T) {
	raw := wrapN(t, `{"results":[{"type":"query","data":{"esql":"FROM logs-1"}}]}`, 1)
	got, err := ParseTable(raw)
	require.NoError(t, err)
	require.Empty(t, got.Rows)
	require.Equal(t, "FROM logs-1", got.Query)
}

func TestParseTableGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"unexpected":true}`, `[1,2,3]`} {
		_, err := ParseTable([]byte(raw))
		var perr *ParseError
		require.ErrorAs(t, err, &perr, "input %q", raw)
	}
}

func TestParseIndices(t *testing.T) {
	raw := wrapN(t, `{"results":[{"type":"other","data":{`+
		`"indices":[{"name":"logs-1"},{"name":"logs-2"},{"name":""}],`+
		`"data_streams":[{"name":"metrics-app"}]}}]}`, 2)
	got, err := ParseIndices(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"logs-1", "logs-2"}, got.Names)
	require.Equal(t, []string{"metrics-app"}, got.DataStreams)
}

func TestParseIndicesEmptyResults(t *testing.T) {
	got, err := ParseIndices([]byte(`{"results":[]}`))
	require.NoError(t, err)
	require.Empty(t, got.Names)
	require.Empty(t, got.DataStreams)
}

func TestParseIndicesErrorEnvelope(t *testing.T) {
	raw := wrapN(t, `{"results":[{"type":"error","data":{"message":"cluster unavailable"}}]}`, 1)
	_, err := ParseIndices(raw)
	var terr *ToolResultError
	require.ErrorAs(t, err, &terr)
}

func TestParseMappings(t *testing.T) {
	raw := wrapN(t, `{"results":[{"type":"other","data":{"mappings":{`+
		`"logs-1":{"properties":{"client_ip":{"type":"keyword"},`+
		`"request":{"properties":{"path":{"type":"keyword"},"bytes":{"type":"long"}}}}}}}}]}`, 1)
	got, err := ParseMappings(raw)
	require.NoError(t, err)
	require.Contains(t, got, "logs-1")
	require.Equal(t, "keyword", got["logs-1"]["client_ip"].Type)
	require.Equal(t, "long", got["logs-1"]["request"].Properties["bytes"].Type)
}

func TestUnwrapRejectsUnknownShape(t *testing.T) {
	_, err := unwrap([]byte(`{"content":"not a list"}`))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}
