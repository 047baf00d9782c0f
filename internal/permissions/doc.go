// ABOUTME: Package documentation for the permissions package
// ABOUTME: Explains the provider abstraction and its two backends

// Package permissions decides who may do what to a runbook. The Provider
// interface is the single authorization source of truth; the rest of the
// server never inspects grant rows or graph relations directly.
//
// Two backends implement Provider with identical semantics: LocalProvider
// keeps grant rows in the primary SQLite database and suits single-node
// deployments, while GraphProvider delegates to an external
// relationship-graph service. The factory picks one at startup from static
// configuration and fails fast when the chosen backend's dependency is
// missing.
//
// Levels are ordered by capability: owner implies writer implies read.
// Every runbook has exactly one owner, created transactionally with the
// runbook itself, and the owner grant can never be revoked.
package permissions
