// ABOUTME: Local permission provider backed by grant rows in the primary SQLite store
// ABOUTME: Ownership is a reserved level value on the same rows, not a separate table

package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LocalProvider implements Provider with rows in the primary relational
// store, keyed by (runbook_id, user_id). Reads are linearizable by virtue
// of single-database transactions.
type LocalProvider struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLocalProvider creates a provider over the given database handle. The
// handle is shared with the resource store so grants and runbooks live in
// the same transactional domain.
func NewLocalProvider(db *sql.DB) *LocalProvider {
	return &LocalProvider{
		db:     db,
		logger: slog.Default().With("component", "permissions.local"),
	}
}

// CheckPermission is a direct row lookup.
func (p *LocalProvider) CheckPermission(ctx context.Context, userID, runbookID string) (Result, error) {
	var level string
	err := p.db.QueryRowContext(ctx, `
		SELECT level FROM runbook_grants WHERE runbook_id = ? AND user_id = ?
	`, runbookID, userID).Scan(&level)
	if err == sql.ErrNoRows {
		return Result{HasAccess: false, Level: LevelNone}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("checking permission: %w", err)
	}

	return Result{HasAccess: true, Level: Level(level)}, nil
}

// GrantPermission creates or refreshes a writer grant. An existing owner
// grant is left untouched: the second grant would be redundant and a
// downgrade would violate the sole-owner invariant.
func (p *LocalProvider) GrantPermission(ctx context.Context, g Grant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO runbook_grants (runbook_id, user_id, resource_type, level, granted_by, granted_at)
		VALUES (?, ?, 'runbook', 'writer', ?, ?)
		ON CONFLICT(runbook_id, user_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at
		WHERE runbook_grants.level = 'writer'
	`, g.RunbookID, g.UserID, g.GrantedBy, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("granting permission: %w", err)
	}

	p.logger.Debug("granted writer permission", "runbook_id", g.RunbookID, "user_id", g.UserID, "granted_by", g.GrantedBy)
	return nil
}

// RevokePermission deletes a writer grant. Revoking the owner grant is
// rejected: the sole-owner invariant is enforced at creation time and
// never relaxed by revocation.
func (p *LocalProvider) RevokePermission(ctx context.Context, r Revocation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var level string
	err = tx.QueryRowContext(ctx, `
		SELECT level FROM runbook_grants WHERE runbook_id = ? AND user_id = ?
	`, r.RunbookID, r.UserID).Scan(&level)
	if err == sql.ErrNoRows {
		return ErrGrantNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up grant: %w", err)
	}

	if Level(level) == LevelOwner {
		return ErrCannotRevokeOwner
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM runbook_grants WHERE runbook_id = ? AND user_id = ?
	`, r.RunbookID, r.UserID); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing revocation: %w", err)
	}

	p.logger.Debug("revoked permission", "runbook_id", r.RunbookID, "user_id", r.UserID, "revoked_by", r.RevokedBy)
	return nil
}

// ListPermissions returns the owner plus all writers, owner first.
func (p *LocalProvider) ListPermissions(ctx context.Context, runbookID string) ([]UserPermission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, level, granted_by, granted_at
		FROM runbook_grants
		WHERE runbook_id = ?
		ORDER BY CASE level WHEN 'owner' THEN 0 ELSE 1 END, granted_at
	`, runbookID)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	perms := []UserPermission{}
	for rows.Next() {
		var up UserPermission
		var level, grantedAtStr string
		if err := rows.Scan(&up.UserID, &level, &up.GrantedBy, &grantedAtStr); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		up.Level = Level(level)
		up.GrantedAt, _ = time.Parse(time.RFC3339, grantedAtStr)
		perms = append(perms, up)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return perms, nil
}

// IsOwner reports whether the user holds the owner grant.
func (p *LocalProvider) IsOwner(ctx context.Context, userID, runbookID string) (bool, error) {
	res, err := p.CheckPermission(ctx, userID, runbookID)
	if err != nil {
		return false, err
	}
	return res.Level == LevelOwner, nil
}

// ListAccessibleRunbooks is a row scan filtered by user (and level when
// requested).
func (p *LocalProvider) ListAccessibleRunbooks(ctx context.Context, userID, resourceType string, levels []Level) ([]string, error) {
	if resourceType == "" {
		resourceType = "runbook"
	}

	query := `
		SELECT runbook_id FROM runbook_grants
		WHERE user_id = ? AND resource_type = ?
	`
	args := []any{userID, resourceType}

	if len(levels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(levels)), ",")
		query += fmt.Sprintf(" AND level IN (%s)", placeholders)
		for _, l := range levels {
			args = append(args, string(l))
		}
	}
	query += ` ORDER BY CASE level WHEN 'owner' THEN 0 ELSE 1 END, granted_at`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing accessible runbooks: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning runbook id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runbook ids: %w", err)
	}
	return ids, nil
}

// FilterAccessibleRunbooks intersects candidate ids with the user's grants,
// preserving candidate order.
func (p *LocalProvider) FilterAccessibleRunbooks(ctx context.Context, userID string, runbookIDs []string) ([]string, error) {
	if len(runbookIDs) == 0 {
		return []string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runbookIDs)), ",")
	query := fmt.Sprintf(`
		SELECT runbook_id FROM runbook_grants
		WHERE user_id = ? AND runbook_id IN (%s)
	`, placeholders)

	args := make([]any, 0, len(runbookIDs)+1)
	args = append(args, userID)
	for _, id := range runbookIDs {
		args = append(args, id)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filtering accessible runbooks: %w", err)
	}
	defer rows.Close()

	accessible := make(map[string]bool, len(runbookIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning runbook id: %w", err)
		}
		accessible[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runbook ids: %w", err)
	}

	filtered := []string{}
	for _, id := range runbookIDs {
		if accessible[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// Ensure LocalProvider implements Provider
var _ Provider = (*LocalProvider)(nil)
