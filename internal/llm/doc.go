// Package llm defines the provider-neutral text generation contract used by
// every agent, plus helpers for free-text and JSON-shaped generation.
// Concrete providers live in the openai and anthropic subpackages.
package llm
