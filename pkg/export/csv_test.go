package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestExportWritesCSV(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	exporter, err := NewCSV(dir, clock)
	require.NoError(t, err)

	result, err := exporter.Export(context.Background(), []string{"client_ip", "count"}, [][]any{
		{"10.0.0.1", 42},
		{"10.0.0.2", nil},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
	require.True(t, strings.HasPrefix(filepath.Base(result.Path), "query_result_20260314_092653_"))

	f, err := os.Open(result.Path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"client_ip", "count"},
		{"10.0.0.1", "42"},
		{"10.0.0.2", ""},
	}, records)
}

func TestExportUniqueFilenames(t *testing.T) {
	exporter, err := NewCSV(t.TempDir(), clockwork.NewFakeClock())
	require.NoError(t, err)

	first, err := exporter.Export(context.Background(), []string{"a"}, [][]any{{1}})
	require.NoError(t, err)
	second, err := exporter.Export(context.Background(), []string{"a"}, [][]any{{2}})
	require.NoError(t, err)
	require.NotEqual(t, first.Path, second.Path)
}
