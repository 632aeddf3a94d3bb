package core

// FailureKind classifies the non-fatal failures the bus records. Failures
// local to one agent's activation never abort the bus or other agents.
type FailureKind string

const (
	// FailureDeliveryMiss records a publish whose destination no longer
	// exists. Logged and counted; the connection is pruned lazily.
	FailureDeliveryMiss FailureKind = "delivery_miss"
	// FailureActivationTimeout records a reasoning call exceeding its
	// deadline. Retried up to the agent's retry bound.
	FailureActivationTimeout FailureKind = "activation_timeout"
	// FailureMalformedOutput records a reasoning result that could not be
	// parsed into directives. Treated like a timeout: retry, then skip.
	FailureMalformedOutput FailureKind = "malformed_output"
	// FailureCacheOverflow records an eviction that had to drop an unused
	// entry because the cache was over capacity.
	FailureCacheOverflow FailureKind = "cache_overflow"
	// FailureRegistryInconsistency records a connection referencing a
	// removed agent, detected and pruned at delivery time.
	FailureRegistryInconsistency FailureKind = "registry_inconsistency"
)

// Failure is a structured failure event attached to log output and
// surfaced through the bus counters.
type Failure struct {
	Kind    FailureKind
	AgentID string
	Retry   int
	Err     error
}
