// Package export writes query result sets to CSV files.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/metrics"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

// CSV implements workflow.Exporter against a local directory.
type CSV struct {
	dir   string
	clock clockwork.Clock
}

// NewCSV creates the export directory if needed.
func NewCSV(dir string, clock clockwork.Clock) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}
	return &CSV{dir: dir, clock: clock}, nil
}

// Dir returns the export directory.
func (c *CSV) Dir() string {
	return c.dir
}

// Export writes the result set to a timestamped file and returns its
// descriptor. Nil cells are written as empty strings.
func (c *CSV) Export(_ context.Context, columns []string, rows [][]any) (*workflow.ExportResult, error) {
	name := fmt.Sprintf("query_result_%s_%s.csv",
		c.clock.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
	path := filepath.Join(c.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprintf("%v", row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	metrics.RecordCSVExport()
	return &workflow.ExportResult{
		Path:     path,
		RowCount: len(rows),
		SizeMB:   math.Round(float64(info.Size())/1024/1024*100) / 100,
	}, nil
}
