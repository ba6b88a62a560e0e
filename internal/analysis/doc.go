// Package analysis scores journal text for sentiment and emotions, either by
// asking the configured LLM or through a transformer script, and provides
// neutral fallbacks for when neither is available.
package analysis
