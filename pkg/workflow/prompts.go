package workflow

import (
	"fmt"
	"strings"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow/prompts"
)

// Prompts contains the workflow prompts loaded from embedded files.
type Prompts struct {
	System           string
	SelectIndices    string
	GenerateQuery    string
	RepairContext    string
	Finalize         string
	FinalizeDegraded string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}
	for _, entry := range []struct {
		dst  *string
		file string
	}{
		{&p.System, "SYSTEM.md"},
		{&p.SelectIndices, "SELECT_INDICES.md"},
		{&p.GenerateQuery, "GENERATE_QUERY.md"},
		{&p.RepairContext, "REPAIR_CONTEXT.md"},
		{&p.Finalize, "FINALIZE.md"},
		{&p.FinalizeDegraded, "FINALIZE_DEGRADED.md"},
	} {
		data, err := prompts.FS.ReadFile(entry.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", entry.file, err)
		}
		*entry.dst = strings.TrimSpace(string(data))
	}
	return p, nil
}

// render substitutes {{NAME}} placeholders in a prompt template.
func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// formatHistory renders prior conversation turns for prompt context, empty
// string when there is no history.
func formatHistory(history []ConversationMessage) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nPrior conversation:\n")
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
