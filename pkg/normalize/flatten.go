package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// Flatten reduces a field tree to dotted-path -> type pairs, depth-first.
// Object nodes contribute no entry of their own, only their children.
func Flatten(tree FieldTree) map[string]string {
	out := map[string]string{}
	flattenInto("", tree, out)
	return out
}

func flattenInto(prefix string, tree FieldTree, out map[string]string) {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := tree[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if field.Type != "" && field.Type != "object" {
			out[path] = field.Type
		}
		if len(field.Properties) > 0 {
			flattenInto(path, field.Properties, out)
		}
	}
}

// Dedupe flattens and merges fields across indices. Indices are visited in
// sorted name order and the first occurrence of a path wins, so the result
// is stable regardless of map iteration order.
func Dedupe(mappings map[string]FieldTree) map[string]string {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := map[string]string{}
	for _, name := range names {
		for path, typ := range Flatten(mappings[name]) {
			if _, seen := out[path]; !seen {
				out[path] = typ
			}
		}
	}
	return out
}

// FormatFields renders flattened fields as "path: type" lines sorted by
// path, ready to drop into a prompt.
func FormatFields(fields map[string]string) string {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "%s: %s\n", path, fields[path])
	}
	return strings.TrimRight(b.String(), "\n")
}
