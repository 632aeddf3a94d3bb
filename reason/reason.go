package reason

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/synapse-agents/synapse/core"
)

// ErrMalformedOutput reports a reasoning result that yielded no parseable
// directives. The activation engine treats it like a timeout: retry up to
// the bound, then poison-skip.
var ErrMalformedOutput = errors.New("reason: malformed output")

// Request carries everything one activation hands to the collaborator.
type Request struct {
	// Instruction is the agent's static behavior text, passed through
	// unexamined by the core.
	Instruction string
	// SelfState is the agent's current free-text state.
	SelfState string
	// OutputKeywords lists the keywords the agent can currently publish.
	OutputKeywords []string
	// Inputs are the unused cache entries selected for this activation,
	// in arrival order.
	Inputs []core.Message
}

// Result is the parsed outcome of a reasoning call.
type Result struct {
	// Directives are the routed outputs, in appearance order.
	Directives []core.Directive
	// SelfState, when non-nil, replaces the agent's self state.
	SelfState *string
	// Signals are registry control operations to apply.
	Signals []core.Signal
	// Raw preserves the unparsed text for logging.
	Raw string
}

// Reasoner is the external collaborator interface. Invoke must honor ctx
// cancellation and deadlines; expiry is reported as the context error.
type Reasoner interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, req Request) (Result, error)

// Invoke implements Reasoner.
func (f ReasonerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// BuildPrompt renders the provider-agnostic system and user prompts for a
// request. The system prompt is the instruction followed by the self state
// and available output keywords; the user prompt lists each input as
// "keyword : payload" in arrival order.
func BuildPrompt(req Request) (system, user string) {
	var sb strings.Builder
	sb.WriteString(req.Instruction)
	sb.WriteString("\n<self_state>")
	sb.WriteString(req.SelfState)
	sb.WriteString("</self_state>")
	sb.WriteString("\n<output_keywords>")
	sb.WriteString(strings.Join(req.OutputKeywords, " "))
	sb.WriteString("</output_keywords>")

	lines := make([]string, 0, len(req.Inputs))
	for _, m := range req.Inputs {
		lines = append(lines, fmt.Sprintf("%s : %s", m.Keyword, m.Payload))
	}
	return sb.String(), strings.Join(lines, "\n")
}

// Scripted is a deterministic in-memory Reasoner for tests and examples.
// Each Invoke consumes the next queued step; an exhausted script echoes the
// inputs back as a single "echo" directive.
type Scripted struct {
	steps []scriptStep
}

type scriptStep struct {
	text string
	err  error
}

// NewScripted constructs an empty scripted reasoner.
func NewScripted() *Scripted { return &Scripted{} }

// Respond queues a raw response text to be parsed on a future Invoke.
func (s *Scripted) Respond(text string) *Scripted {
	s.steps = append(s.steps, scriptStep{text: text})
	return s
}

// Fail queues an error to be returned by a future Invoke.
func (s *Scripted) Fail(err error) *Scripted {
	s.steps = append(s.steps, scriptStep{err: err})
	return s
}

// Invoke implements Reasoner.
func (s *Scripted) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(s.steps) == 0 {
		var payloads []string
		for _, m := range req.Inputs {
			payloads = append(payloads, m.Payload)
		}
		return ParseOutput("<echo>" + strings.Join(payloads, "\n") + "</echo>")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return Result{}, step.err
	}
	return ParseOutput(step.text)
}
