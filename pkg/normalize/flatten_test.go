package normalize

import (
	"reflect"
	"strings"
	"testing"
)

func TestFlatten(t *testing.T) {
	tree := FieldTree{
		"client_ip": {Type: "keyword"},
		"request": {Properties: FieldTree{
			"path":  {Type: "keyword"},
			"bytes": {Type: "long"},
			"geo": {Type: "object", Properties: FieldTree{
				"country": {Type: "keyword"},
			}},
		}},
	}

	got := Flatten(tree)
	want := map[string]string{
		"client_ip":           "keyword",
		"request.path":        "keyword",
		"request.bytes":       "long",
		"request.geo.country": "keyword",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Flatten() = %v, want %v", got, want)
	}
}

func TestDedupeFirstIndexWins(t *testing.T) {
	mappings := map[string]FieldTree{
		"logs-b": {"shared": {Type: "text"}, "b_only": {Type: "long"}},
		"logs-a": {"shared": {Type: "keyword"}, "a_only": {Type: "ip"}},
	}

	got := Dedupe(mappings)
	// logs-a sorts first, so its type for the shared path wins.
	want := map[string]string{
		"shared": "keyword",
		"a_only": "ip",
		"b_only": "long",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe() = %v, want %v", got, want)
	}
}

func TestFormatFieldsSorted(t *testing.T) {
	got := FormatFields(map[string]string{"b": "long", "a": "keyword"})
	if got != "a: keyword\nb: long" {
		t.Fatalf("FormatFields() = %q", got)
	}
}

func TestFormatTable(t *testing.T) {
	empty := FormatTable(Table{})
	if empty != "No data returned from query." {
		t.Fatalf("empty table = %q", empty)
	}

	table := Table{
		Columns: []Column{{Name: "ip", Type: "keyword"}, {Name: "n", Type: "long"}},
	}
	for i := 0; i < 15; i++ {
		table.Rows = append(table.Rows, []any{"10.0.0.1", i})
	}

	out := FormatTable(table)
	if !strings.HasPrefix(out, "ip | n\n") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "... and 5 more rows") {
		t.Fatalf("missing overflow marker: %q", out)
	}
	if got := strings.Count(out, "\n"); got != 12 {
		t.Fatalf("expected header+separator+10 rows+marker, got %d newlines", got)
	}
}

func TestFormatTableTruncatesLongCells(t *testing.T) {
	long := strings.Repeat("x", 80)
	out := FormatTable(Table{
		Columns: []Column{{Name: "msg"}},
		Rows:    [][]any{{long}, {nil}},
	})
	if strings.Contains(out, long) {
		t.Fatal("long cell not truncated")
	}
	if !strings.Contains(out, "...") || !strings.Contains(out, "null") {
		t.Fatalf("unexpected formatting: %q", out)
	}
}
