// Package normalize reduces raw tool-call responses to canonical shapes the
// workflow engine can reason about: index listings, field mappings, and
// tabular row sets. Tool payloads arrive wrapped in one or more layers of
// {type, text} envelopes whose text is itself JSON; unwrapping is iterative
// and bounded so malformed input degrades instead of looping.
package normalize

import (
	"encoding/json"
	"fmt"
)

// maxUnwrapDepth caps how many text-envelope layers are peeled before the
// payload is treated as unparseable.
const maxUnwrapDepth = 3

// ParseError reports a response that could not be reduced to a known shape
// after bounded unwrapping. Callers decide whether that degrades to an empty
// result or counts as a failed execution.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "unparseable tool response: " + e.Reason
}

// ToolResultError is an error reported inside an otherwise well-formed tool
// response, e.g. a query rejected by the backend.
type ToolResultError struct {
	Message string
}

func (e *ToolResultError) Error() string {
	return e.Message
}

// Indices is the canonical result of the discovery tool.
type Indices struct {
	Names       []string
	DataStreams []string
}

// Column describes one column of a tabular result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is the canonical result of a query execution.
type Table struct {
	Columns []Column
	Rows    [][]any
	Query   string
	Source  string
}

// Field is one node of an index mapping tree. Leaf fields carry a type;
// object fields carry nested properties.
type Field struct {
	Type       string    `json:"type,omitempty"`
	Properties FieldTree `json:"properties,omitempty"`
}

// FieldTree is the properties tree of a single index mapping.
type FieldTree map[string]Field

type payload struct {
	Results []result `json:"results"`
}

type result struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// unwrap peels text envelopes until a results payload appears or the depth
// cap is hit.
func unwrap(raw []byte) (*payload, error) {
	cur := raw
	for depth := 0; depth <= maxUnwrapDepth; depth++ {
		var p payload
		if err := json.Unmarshal(cur, &p); err == nil && p.Results != nil {
			return &p, nil
		}

		var env struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(cur, &env); err == nil && len(env.Content) > 0 && env.Content[0].Text != "" {
			cur = []byte(env.Content[0].Text)
			continue
		}

		// Legacy form: a bare list of text blocks.
		var list []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(cur, &list); err == nil && len(list) > 0 && list[0].Text != "" {
			cur = []byte(list[0].Text)
			continue
		}

		return nil, &ParseError{Reason: fmt.Sprintf("unrecognized shape at depth %d", depth)}
	}
	return nil, &ParseError{Reason: fmt.Sprintf("nesting exceeds depth cap %d", maxUnwrapDepth)}
}

// resultError returns the first error entry in the payload, if any.
func resultError(p *payload) *ToolResultError {
	for _, r := range p.Results {
		if r.Type != "error" {
			continue
		}
		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(r.Data, &data); err != nil || data.Message == "" {
			return &ToolResultError{Message: "unknown tool error"}
		}
		return &ToolResultError{Message: data.Message}
	}
	return nil
}

// ParseIndices extracts index and data-stream names from a discovery
// response. A ParseError return carries an empty listing.
func ParseIndices(raw []byte) (Indices, error) {
	p, err := unwrap(raw)
	if err != nil {
		return Indices{}, err
	}
	if terr := resultError(p); terr != nil {
		return Indices{}, terr
	}
	if len(p.Results) == 0 {
		return Indices{}, nil
	}

	var data struct {
		Indices []struct {
			Name string `json:"name"`
		} `json:"indices"`
		DataStreams []struct {
			Name string `json:"name"`
		} `json:"data_streams"`
	}
	if err := json.Unmarshal(p.Results[0].Data, &data); err != nil {
		return Indices{}, &ParseError{Reason: "listing data: " + err.Error()}
	}

	var out Indices
	for _, idx := range data.Indices {
		if idx.Name != "" {
			out.Names = append(out.Names, idx.Name)
		}
	}
	for _, ds := range data.DataStreams {
		if ds.Name != "" {
			out.DataStreams = append(out.DataStreams, ds.Name)
		}
	}
	return out, nil
}

// ParseMappings extracts per-index field trees from a mapping response.
func ParseMappings(raw []byte) (map[string]FieldTree, error) {
	p, err := unwrap(raw)
	if err != nil {
		return nil, err
	}
	if terr := resultError(p); terr != nil {
		return nil, terr
	}
	if len(p.Results) == 0 {
		return map[string]FieldTree{}, nil
	}

	var data struct {
		Mappings map[string]struct {
			Properties FieldTree `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(p.Results[0].Data, &data); err != nil {
		return nil, &ParseError{Reason: "mapping data: " + err.Error()}
	}

	out := make(map[string]FieldTree, len(data.Mappings))
	for name, m := range data.Mappings {
		out[name] = m.Properties
	}
	return out, nil
}

// ParseTable extracts a tabular result from an execution response. An error
// entry in the payload is returned as a ToolResultError; a well-formed
// payload without tabular data yields an empty table.
func ParseTable(raw []byte) (Table, error) {
	p, err := unwrap(raw)
	if err != nil {
		return Table{}, err
	}
	if terr := resultError(p); terr != nil {
		return Table{}, terr
	}

	var out Table
	for _, r := range p.Results {
		switch r.Type {
		case "tabular_data":
			var data struct {
				Columns []Column        `json:"columns"`
				Values  [][]any         `json:"values"`
				Query   string          `json:"query"`
				Source  json.RawMessage `json:"source"`
			}
			if err := json.Unmarshal(r.Data, &data); err != nil {
				return Table{}, &ParseError{Reason: "tabular data: " + err.Error()}
			}
			out.Columns = data.Columns
			out.Rows = data.Values
			if data.Query != "" {
				out.Query = data.Query
			}
			out.Source = string(data.Source)
			return out, nil
		case "query":
			var data struct {
				Query string `json:"esql"`
			}
			if err := json.Unmarshal(r.Data, &data); err == nil {
				out.Query = data.Query
			}
		}
	}
	return out, nil
}
