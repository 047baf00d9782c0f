// ABOUTME: Store interface and data types for runbook-gateway persistence
// ABOUTME: Defines Runbook, User structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRunbook is returned when trying to create a runbook that already exists
var ErrDuplicateRunbook = errors.New("runbook already exists")

// Runbook represents a collaborative notebook document.
// The cell/output content itself lives in the sync layer; the store only
// tracks the document row the permission system hangs off of.
type Runbook struct {
	ID        string
	Title     string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a registry row for a non-anonymous authenticated identity.
// Anonymous identities are never persisted here.
type User struct {
	ID          string
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListOptions controls ordering window for batch runbook fetches.
// Ordering is always most-recently-updated first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store defines the interface for runbook and user persistence
type Store interface {
	// Runbooks
	CreateRunbook(ctx context.Context, rb *Runbook) error
	GetRunbook(ctx context.Context, id string) (*Runbook, error)
	UpdateRunbookTitle(ctx context.Context, id, title string) error
	TouchRunbook(ctx context.Context, id string) error
	DeleteRunbook(ctx context.Context, id string) error

	// GetRunbooksByIDs fetches the given runbooks ordered by most recent
	// update. The id set comes from the permission provider; ordering and
	// pagination are applied here, never at the authorization step.
	GetRunbooksByIDs(ctx context.Context, ids []string, opts ListOptions) ([]*Runbook, error)

	// User registry
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Close releases any resources held by the store
	Close() error
}
