// ABOUTME: Two-phase authorize-then-fetch orchestration for runbook listings
// ABOUTME: The permission provider yields ids, the store applies ordering and pagination

package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runbookhq/runbook-gateway/internal/permissions"
	"github.com/runbookhq/runbook-gateway/internal/store"
)

// RunbookFetcher is the slice of the store the orchestrator needs.
type RunbookFetcher interface {
	GetRunbooksByIDs(ctx context.Context, ids []string, opts store.ListOptions) ([]*store.Runbook, error)
}

// Orchestrator composes the permission provider and the resource store for
// listing queries. Authorization always runs first; ordering and pagination
// are applied by the store over the authorized id set, never the other way
// around, so a permission filter can never leak a row the user cannot see.
type Orchestrator struct {
	provider permissions.Provider
	fetcher  RunbookFetcher
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given provider and store.
func NewOrchestrator(provider permissions.Provider, fetcher RunbookFetcher) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		fetcher:  fetcher,
		logger:   slog.Default().With("component", "query"),
	}
}

// ListAccessible returns the runbooks the user can reach at any level,
// most-recently-updated first. An empty authorized set short-circuits
// without touching the store.
func (o *Orchestrator) ListAccessible(ctx context.Context, userID string, opts store.ListOptions) ([]*store.Runbook, error) {
	ids, err := o.provider.ListAccessibleRunbooks(ctx, userID, "runbook", nil)
	if err != nil {
		return nil, fmt.Errorf("listing accessible runbooks: %w", err)
	}
	if len(ids) == 0 {
		return []*store.Runbook{}, nil
	}

	runbooks, err := o.fetcher.GetRunbooksByIDs(ctx, ids, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching runbooks: %w", err)
	}
	return runbooks, nil
}

// ListOwned returns only the runbooks the user owns.
func (o *Orchestrator) ListOwned(ctx context.Context, userID string, opts store.ListOptions) ([]*store.Runbook, error) {
	ids, err := o.provider.ListAccessibleRunbooks(ctx, userID, "runbook", []permissions.Level{permissions.LevelOwner})
	if err != nil {
		return nil, fmt.Errorf("listing owned runbooks: %w", err)
	}
	if len(ids) == 0 {
		return []*store.Runbook{}, nil
	}

	runbooks, err := o.fetcher.GetRunbooksByIDs(ctx, ids, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching runbooks: %w", err)
	}
	return runbooks, nil
}

// FilterVisible narrows candidate ids to those the user can access and
// fetches the survivors. Used when an upstream search already produced a
// candidate set.
func (o *Orchestrator) FilterVisible(ctx context.Context, userID string, candidateIDs []string, opts store.ListOptions) ([]*store.Runbook, error) {
	if len(candidateIDs) == 0 {
		return []*store.Runbook{}, nil
	}

	ids, err := o.provider.FilterAccessibleRunbooks(ctx, userID, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("filtering accessible runbooks: %w", err)
	}
	if len(ids) == 0 {
		return []*store.Runbook{}, nil
	}

	runbooks, err := o.fetcher.GetRunbooksByIDs(ctx, ids, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching runbooks: %w", err)
	}
	return runbooks, nil
}
