// ABOUTME: Permission provider contract and shared types for runbook authorization
// ABOUTME: Two interchangeable implementations (local rows, relationship graph) share these semantics

package permissions

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Level is a permission level. Capability is ordered: owner implies writer
// implies read.
type Level string

const (
	LevelOwner  Level = "owner"
	LevelWriter Level = "writer"
	LevelNone   Level = "none"
)

// Satisfies reports whether holding level l grants the capability of want.
func (l Level) Satisfies(want Level) bool {
	switch want {
	case LevelNone:
		return true
	case LevelWriter:
		return l == LevelOwner || l == LevelWriter
	case LevelOwner:
		return l == LevelOwner
	default:
		return false
	}
}

// Result is the ephemeral outcome of a permission check. Never persisted.
type Result struct {
	HasAccess bool
	Level     Level
	Reason    string
}

// Grant describes a writer grant to create.
type Grant struct {
	RunbookID string
	UserID    string
	GrantedBy string
}

// Revocation describes a grant to remove.
type Revocation struct {
	RunbookID string
	UserID    string
	RevokedBy string
}

// UserPermission is one entry in a runbook's permission listing. GrantedBy
// and GrantedAt are zero when the backend doesn't record grant metadata.
type UserPermission struct {
	UserID    string
	Level     Level
	GrantedBy string
	GrantedAt time.Time
}

// Provider errors
var (
	// ErrGrantNotFound is returned when revoking a grant that doesn't exist.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrCannotRevokeOwner is returned when a revocation would remove the
	// runbook's sole owner grant and orphan the resource.
	ErrCannotRevokeOwner = errors.New("cannot revoke the runbook owner")

	// ErrCapabilityNotAvailable is returned when the configured backend
	// doesn't support an operation.
	ErrCapabilityNotAvailable = errors.New("operation not supported by this permission backend")

	// ErrMisconfigured is returned by the factory when the configured
	// provider's required dependency is absent. Fatal at startup.
	ErrMisconfigured = errors.New("server misconfigured")
)

// Provider is the authorization source of truth for runbooks. Both
// implementations produce identical semantics; callers must not depend on
// which backend is configured.
//
// Providers are pure data operations: authorization of the caller (e.g.
// "only owners may grant") is enforced by the business layer before a
// mutation is invoked.
type Provider interface {
	// CheckPermission resolves the user's effective level on a runbook.
	// Owner relations satisfy writer queries: owner ⇒ writer ⇒ read.
	CheckPermission(ctx context.Context, userID, runbookID string) (Result, error)

	// GrantPermission creates or refreshes a writer grant. Granting to the
	// owner is a no-op (the owner grant already carries full rights).
	GrantPermission(ctx context.Context, g Grant) error

	// RevokePermission deletes a grant. Revoking the owner grant is always
	// rejected with ErrCannotRevokeOwner.
	RevokePermission(ctx context.Context, r Revocation) error

	// ListPermissions returns the owner plus all writers, owner first.
	ListPermissions(ctx context.Context, runbookID string) ([]UserPermission, error)

	// IsOwner reports whether the user holds the owner grant.
	IsOwner(ctx context.Context, userID, runbookID string) (bool, error)

	// ListAccessibleRunbooks enumerates runbook ids reachable by the user
	// under the requested levels. Nil/empty levels means any level.
	ListAccessibleRunbooks(ctx context.Context, userID, resourceType string, levels []Level) ([]string, error)

	// FilterAccessibleRunbooks intersects candidate ids with accessibility,
	// preserving candidate order. More efficient than per-id checks.
	FilterAccessibleRunbooks(ctx context.Context, userID string, runbookIDs []string) ([]string, error)
}

// CheckOrDeny wraps CheckPermission for resolver code: provider failures
// during a read degrade to no access instead of propagating, so a flaky
// backend denies rather than errors. Construction-time failures are still
// fatal via the factory.
func CheckOrDeny(ctx context.Context, p Provider, userID, runbookID string, logger *slog.Logger) Result {
	res, err := p.CheckPermission(ctx, userID, runbookID)
	if err != nil {
		if logger != nil {
			logger.Warn("permission check failed, denying access",
				"user_id", userID, "runbook_id", runbookID, "error", err)
		}
		return Result{HasAccess: false, Level: LevelNone, Reason: "permission check failed"}
	}
	return res
}
