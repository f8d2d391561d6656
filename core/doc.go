// Package core contains the courier pipeline domain model, collaborator
// contracts, error envelopes and configuration. Stage packages (webhooks,
// mapping, reconcile, retry, deadletter, ndr, rto) depend on core; core must
// not depend on storage or transport adapters.
package core
