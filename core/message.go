package core

import "github.com/google/uuid"

// Message is a single cache entry: an inbound payload together with its
// routing metadata. Seq is assigned by the destination cache and defines
// arrival order; Used is set exactly once, by the activation that consumed
// the entry, and never reset.
type Message struct {
	Seq     uint64 `json:"seq" yaml:"seq"`
	Sender  string `json:"sender" yaml:"sender"`
	Keyword string `json:"keyword" yaml:"keyword"`
	Payload string `json:"payload" yaml:"payload"`
	Used    bool   `json:"used" yaml:"used"`
}

// Directive is one routed output parsed from a reasoning result: publish
// Payload under Keyword. DestinationHint optionally names a single target
// agent; when empty the connection registry decides fan-out.
type Directive struct {
	Keyword         string
	Payload         string
	DestinationHint string
}

// SignalType enumerates the registry control operations a reasoning result
// may request alongside its directives.
type SignalType string

const (
	// SignalExplore marks the agent discoverable for its input keywords.
	SignalExplore SignalType = "EXPLORE"
	// SignalStopExplore withdraws the agent from discovery.
	SignalStopExplore SignalType = "STOP_EXPLORE"
	// SignalSeek asks the registry for discoverable agents accepting
	// Keyword and links the first match as a new output connection.
	SignalSeek SignalType = "SEEK"
	// SignalAcceptInput adds an input connection from AgentID under Keyword.
	SignalAcceptInput SignalType = "ACCEPT_INPUT"
	// SignalRejectInput removes all input connections tagged with Keyword.
	SignalRejectInput SignalType = "REJECT_INPUT"
)

// Signal is a single control operation carried in a reasoning result.
type Signal struct {
	Type    SignalType `json:"type"`
	Keyword string     `json:"keyword,omitempty"`
	AgentID string     `json:"id,omitempty"`
}

// NewID returns a fresh unique identifier for activations and agents
// created without an explicit id.
func NewID() string { return uuid.NewString() }
