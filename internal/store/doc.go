// ABOUTME: Package documentation for the store package
// ABOUTME: Explains the persistence layer and its role as the resource store

// Package store provides SQLite-backed persistence for runbooks, the user
// registry, and the grant rows backing the local permission provider.
//
// The store is the "resource store" half of the two-phase list pattern: the
// permission provider decides which runbook ids a user can see, and
// GetRunbooksByIDs fetches those rows with ordering and pagination applied.
// The two systems cannot be joined in a single query because the permission
// source of truth may live in an external relationship-graph service.
package store
