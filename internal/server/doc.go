// ABOUTME: Package documentation for the server package
// ABOUTME: Explains component wiring and the request authorization flow

// Package server wires the runbook-gateway components into a running HTTP
// service. Every API request passes through the authentication middleware,
// which attaches a Passport to the request context; handlers then consult
// the permission provider before touching the store. Listing endpoints go
// through the query orchestrator so authorization always precedes fetching.
package server
