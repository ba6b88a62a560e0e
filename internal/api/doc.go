// Package api exposes the Story.AI capabilities over HTTP: one JSON route per
// agent capability, read-only views over stored journals and exercises, the
// agent directory, and the webhook endpoints through which signed envelopes
// from other agents enter the messaging bus.
package api
