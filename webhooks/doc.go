// Package webhooks is the ingestion gateway for courier status callbacks.
//
// An inbound call is verified, admitted once per (courier, event id) and
// persisted before the sender gets its 200. Processing then runs off the
// request path:
// verified -> applied | failed (retry scheduled) -> dead_lettered.
// Every transition is recorded on the inbound event so its lifecycle can be
// reconstructed without external logs.
package webhooks
