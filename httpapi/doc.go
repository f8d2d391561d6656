// Package httpapi exposes the courier webhook endpoint and the operator API
// over a chi router. Operator routes dispatch through go-command commanders
// and queriers; errors are rendered from go-errors envelopes.
package httpapi
