// Package config loads the Story.AI runtime configuration from a JSON file,
// applies environment overrides (including per-agent LLM keys) and fills in
// defaults for anything left unset.
package config
