package metrics

import "time"

var (
	llmCalls = newCounterVec("story_llm_calls_total",
		"Language model calls by agent and outcome.", "agent", "outcome")
	llmLatency = newHistogramVec("story_llm_call_duration_seconds",
		"Language model call duration in seconds.", "agent")
	fallbacks = newCounterVec("story_agent_fallbacks_total",
		"Operations that degraded to their fallback value.", "agent", "operation")
	envelopes = newCounterVec("story_envelopes_total",
		"Agent envelopes by direction, schema and outcome.", "direction", "schema", "outcome")
)

// ObserveLLMCall records one language model call made on behalf of an agent.
func ObserveLLMCall(agent, outcome string, duration time.Duration) {
	llmCalls.inc(agent, outcome)
	llmLatency.observe(duration.Seconds(), agent)
}

// ObserveFallback counts an operation that returned its hard-coded fallback.
func ObserveFallback(agent, operation string) {
	fallbacks.inc(agent, operation)
}

// ObserveEnvelope counts envelopes moving through the message bus.
func ObserveEnvelope(direction, schema, outcome string) {
	envelopes.inc(direction, schema, outcome)
}

// Recorder adapts the package level functions to the observer interfaces
// used by the llm, messaging and agent packages.
type Recorder struct{}

// ObserveLLMCall implements llm.Observer.
func (Recorder) ObserveLLMCall(agent, outcome string, duration time.Duration) {
	ObserveLLMCall(agent, outcome, duration)
}

// ObserveEnvelope implements messaging.Observer.
func (Recorder) ObserveEnvelope(direction, schema, outcome string) {
	ObserveEnvelope(direction, schema, outcome)
}

// ObserveFallback implements agent.FallbackObserver.
func (Recorder) ObserveFallback(agent, operation string) {
	ObserveFallback(agent, operation)
}
