package reason

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/synapse-agents/synapse/core"
)

// Reserved tags interpreted by the parser instead of being routed.
const (
	tagSelfState = "self_state"
	tagSignal    = "signal"
)

// openTag matches <keyword> or <keyword to="destination">.
var openTag = regexp.MustCompile(`<(\w+)(?:\s+to="([^"]*)")?>`)

// ParseOutput extracts directives, a self-state update and control signals
// from raw reasoning text. Tags are <keyword>payload</keyword> pairs;
// an optional to="agent-id" attribute sets the directive's destination
// hint. Text outside tags is ignored. A result with no recognized tag at
// all is malformed.
func ParseOutput(text string) (Result, error) {
	res := Result{Raw: text}
	rest := text
	matched := false

	for {
		loc := openTag.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		keyword := rest[loc[2]:loc[3]]
		hint := ""
		if loc[4] >= 0 {
			hint = rest[loc[4]:loc[5]]
		}
		after := rest[loc[1]:]
		closing := "</" + keyword + ">"
		end := strings.Index(after, closing)
		if end < 0 {
			// Unterminated tag: skip the opener and keep scanning.
			rest = after
			continue
		}
		payload := after[:end]
		rest = after[end+len(closing):]
		matched = true

		switch keyword {
		case tagSelfState:
			state := payload
			res.SelfState = &state
		case tagSignal:
			signals, err := parseSignals(payload)
			if err != nil {
				return Result{Raw: text}, err
			}
			res.Signals = append(res.Signals, signals...)
		default:
			res.Directives = append(res.Directives, core.Directive{
				Keyword:         keyword,
				Payload:         payload,
				DestinationHint: hint,
			})
		}
	}

	if !matched {
		return Result{Raw: text}, fmt.Errorf("%w: no directive tags in %d bytes", ErrMalformedOutput, len(text))
	}
	return res, nil
}

// parseSignals decodes the JSON array carried by a <signal> tag and
// validates each entry against the known signal types.
func parseSignals(payload string) ([]core.Signal, error) {
	var signals []core.Signal
	if err := json.Unmarshal([]byte(payload), &signals); err != nil {
		return nil, fmt.Errorf("%w: signal payload: %v", ErrMalformedOutput, err)
	}
	for _, s := range signals {
		switch s.Type {
		case core.SignalExplore, core.SignalStopExplore:
		case core.SignalSeek, core.SignalRejectInput:
			if s.Keyword == "" {
				return nil, fmt.Errorf("%w: %s signal requires keyword", ErrMalformedOutput, s.Type)
			}
		case core.SignalAcceptInput:
			if s.Keyword == "" || s.AgentID == "" {
				return nil, fmt.Errorf("%w: ACCEPT_INPUT signal requires id and keyword", ErrMalformedOutput)
			}
		default:
			return nil, fmt.Errorf("%w: unknown signal type %q", ErrMalformedOutput, s.Type)
		}
	}
	return signals, nil
}
