// Package openai adapts the OpenAI Chat Completions API to the
// reason.Reasoner interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/synapse-agents/synapse/reason"
)

// Options configures the OpenAI reasoner. Fields mirror a deliberately
// minimal subset of Chat Completion parameters.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Reasoner wraps the OpenAI client behind reason.Reasoner.
type Reasoner struct {
	client *openai.Client
	opts   Options
}

var _ reason.Reasoner = (*Reasoner)(nil)

// New creates a Reasoner using the default client (API key and base URL
// from the environment).
func New(optFns ...func(o *Options)) *Reasoner {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a Reasoner from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Reasoner {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reasoner{client: client, opts: opts}
}

// Invoke implements reason.Reasoner with a single non-streaming completion.
func (r *Reasoner) Invoke(ctx context.Context, req reason.Request) (reason.Result, error) {
	system, user := reason.BuildPrompt(req)

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	})
	if err != nil {
		return reason.Result{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return reason.Result{}, fmt.Errorf("openai: no choices returned")
	}
	return reason.ParseOutput(resp.Choices[0].Message.Content)
}
