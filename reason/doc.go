// Package reason defines the external reasoning collaborator: the opaque
// call that turns an agent's accumulated unused messages plus instruction
// text into routed output directives. The wire format of a result is a
// sequence of <keyword>payload</keyword> tags; the reserved tags self_state
// and signal update agent state and the routing graph. Provider adapters
// live in the openai and anthropic subpackages.
package reason
