// Package llm provides model clients for the workflow engine.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/metrics"
)

// DefaultMaxTokens bounds completion length when the caller does not choose.
const DefaultMaxTokens = 4096

// AnthropicClient implements workflow.LLMClient against the Anthropic
// Messages API. The API key comes from the environment (ANTHROPIC_API_KEY).
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client for the given model.
func NewAnthropicClient(model anthropic.Model, maxTokens int64) *AnthropicClient {
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a single-turn completion request and returns the text of
// the response.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	metrics.RecordAnthropicRequest("messages", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	metrics.RecordAnthropicTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
