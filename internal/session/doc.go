// Package session keeps per-user conversation state: the routing stage used
// by the assistant and the in-flight therapy conversation.
package session
