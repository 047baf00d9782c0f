// ABOUTME: Package documentation for the query package
// ABOUTME: Explains the authorize-then-fetch listing pattern

// Package query composes the permission provider with the resource store
// for listing operations. The pattern is always two-phase: ask the
// provider which runbook ids the user may see, then fetch those rows with
// ordering and pagination applied at the store. The store never filters by
// permission and the provider never orders results.
package query
