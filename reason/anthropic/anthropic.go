// Package anthropic adapts the Anthropic Messages API to the
// reason.Reasoner interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/synapse-agents/synapse/reason"
)

// Options configures the Anthropic reasoner (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Reasoner wraps the Anthropic client behind reason.Reasoner.
type Reasoner struct {
	client *anthropic.Client
	opts   Options
}

var _ reason.Reasoner = (*Reasoner)(nil)

// New creates a Reasoner using the official client.
func New(optFns ...func(o *Options)) *Reasoner {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Reasoner{client: &client, opts: opts}
}

// NewFromClient creates a Reasoner from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Reasoner {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reasoner{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Invoke implements reason.Reasoner with a single non-streaming call.
func (r *Reasoner) Invoke(ctx context.Context, req reason.Request) (reason.Result, error) {
	system, user := reason.BuildPrompt(req)

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return reason.Result{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return reason.ParseOutput(sb.String())
}
