// Package agent implements the seven Story.AI agents: journal analysis,
// exercise and gratitude generation, therapy conversation, feature guidance,
// query routing and workflow planning. Each agent owns a derived identity,
// handles signed envelopes delivered by the messaging bus and falls back to
// canned results whenever the language model is unavailable.
package agent
