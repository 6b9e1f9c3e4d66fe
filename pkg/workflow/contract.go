package workflow

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the first JSON object out of a model response, tolerating
// code fences and surrounding prose.
func extractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if fenced := strings.Index(s, "```"); fenced >= 0 {
		s = s[fenced+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// parseSelection decodes the IndexSelection contract from a model response.
func parseSelection(response string) (*IndexSelection, error) {
	obj, ok := extractJSON(response)
	if !ok {
		return nil, &ModelOutputError{Contract: "IndexSelection", Reason: "no JSON object in response"}
	}
	var sel IndexSelection
	if err := json.Unmarshal([]byte(obj), &sel); err != nil {
		return nil, &ModelOutputError{Contract: "IndexSelection", Reason: err.Error()}
	}
	return &sel, nil
}

// parsePlan decodes the QueryPlan contract from a model response.
func parsePlan(response string) (*QueryPlan, error) {
	obj, ok := extractJSON(response)
	if !ok {
		return nil, &ModelOutputError{Contract: "QueryPlan", Reason: "no JSON object in response"}
	}
	var plan QueryPlan
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		return nil, &ModelOutputError{Contract: "QueryPlan", Reason: err.Error()}
	}
	if strings.TrimSpace(plan.QueryText) == "" {
		return nil, &ModelOutputError{Contract: "QueryPlan", Reason: "empty query_text"}
	}
	return &plan, nil
}
