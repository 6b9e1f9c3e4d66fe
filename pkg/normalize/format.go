package normalize

import (
	"fmt"
	"strings"
)

const (
	displayRowLimit  = 10
	displayCellLimit = 50
)

// FormatTable renders a bounded, human-readable view of a tabular result for
// prompt context. Only the first few rows are shown and long cells are
// truncated.
func FormatTable(t Table) string {
	if len(t.Columns) == 0 || len(t.Rows) == 0 {
		return "No data returned from query."
	}

	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	header := strings.Join(names, " | ")

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(header)))

	shown := t.Rows
	if len(shown) > displayRowLimit {
		shown = shown[:displayRowLimit]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, " | "))
	}

	if extra := len(t.Rows) - displayRowLimit; extra > 0 {
		fmt.Fprintf(&b, "\n... and %d more rows", extra)
	}
	return b.String()
}

func formatCell(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok && len(s) > displayCellLimit {
		return s[:displayCellLimit-3] + "..."
	}
	return fmt.Sprintf("%v", v)
}
