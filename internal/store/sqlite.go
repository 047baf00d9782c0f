// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides runbook/user persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys (grant rows cascade on runbook deletion)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runbooks (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runbooks_owner ON runbooks(owner_id);
		CREATE INDEX IF NOT EXISTS idx_runbooks_updated ON runbooks(updated_at DESC);

		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT,
			display_name TEXT NOT NULL,
			given_name   TEXT,
			family_name  TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS runbook_grants (
			runbook_id    TEXT NOT NULL REFERENCES runbooks(id) ON DELETE CASCADE,
			user_id       TEXT NOT NULL,
			resource_type TEXT NOT NULL DEFAULT 'runbook',
			level         TEXT NOT NULL,
			granted_by    TEXT NOT NULL,
			granted_at    TEXT NOT NULL,

			PRIMARY KEY (runbook_id, user_id),
			CHECK (level IN ('owner', 'writer'))
		);

		CREATE INDEX IF NOT EXISTS idx_grants_user ON runbook_grants(user_id, level);
		CREATE INDEX IF NOT EXISTS idx_grants_runbook ON runbook_grants(runbook_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying database handle so the local permission
// provider can share the same connection and transaction semantics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateRunbook creates a runbook row and its owner grant in one transaction.
// Every runbook has exactly one owner grant from the moment it exists.
// Returns ErrDuplicateRunbook if the id is already taken.
func (s *SQLiteStore) CreateRunbook(ctx context.Context, rb *Runbook) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runbooks (id, title, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rb.ID,
		rb.Title,
		rb.OwnerID,
		rb.CreatedAt.UTC().Format(time.RFC3339),
		rb.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRunbook
		}
		return fmt.Errorf("inserting runbook: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runbook_grants (runbook_id, user_id, resource_type, level, granted_by, granted_at)
		VALUES (?, ?, 'runbook', 'owner', ?, ?)
	`,
		rb.ID,
		rb.OwnerID,
		rb.OwnerID,
		rb.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting owner grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing runbook creation: %w", err)
	}

	s.logger.Debug("created runbook", "id", rb.ID, "owner", rb.OwnerID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetRunbook retrieves a runbook by ID.
// Returns ErrNotFound if the runbook doesn't exist.
func (s *SQLiteStore) GetRunbook(ctx context.Context, id string) (*Runbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM runbooks
		WHERE id = ?
	`, id)
	return scanRunbook(row)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic
type scanner interface {
	Scan(dest ...any) error
}

func scanRunbook(row scanner) (*Runbook, error) {
	var rb Runbook
	var createdAtStr, updatedAtStr string

	err := row.Scan(&rb.ID, &rb.Title, &rb.OwnerID, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning runbook: %w", err)
	}

	rb.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rb.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rb, nil
}

// UpdateRunbookTitle renames a runbook and bumps its updated_at.
// Returns ErrNotFound if the runbook doesn't exist.
func (s *SQLiteStore) UpdateRunbookTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runbooks SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating runbook title: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated runbook title", "id", id)
	return nil
}

// TouchRunbook bumps a runbook's updated_at so list ordering tracks activity.
// Returns ErrNotFound if the runbook doesn't exist.
func (s *SQLiteStore) TouchRunbook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runbooks SET updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching runbook: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRunbook removes a runbook. Grant rows cascade via the foreign key.
// Returns ErrNotFound if the runbook doesn't exist.
func (s *SQLiteStore) DeleteRunbook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runbooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting runbook: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted runbook", "id", id)
	return nil
}

// GetRunbooksByIDs fetches the given runbooks ordered by most recent update.
// An empty id set returns an empty slice without querying. If opts.Limit is
// 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) GetRunbooksByIDs(ctx context.Context, ids []string, opts ListOptions) ([]*Runbook, error) {
	if len(ids) == 0 {
		return []*Runbook{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`
		SELECT id, title, owner_id, created_at, updated_at
		FROM runbooks
		WHERE id IN (%s)
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, placeholders)

	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runbooks by ids: %w", err)
	}
	defer rows.Close()

	runbooks := []*Runbook{}
	for rows.Next() {
		rb, err := scanRunbook(rows)
		if err != nil {
			return nil, err
		}
		runbooks = append(runbooks, rb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runbook rows: %w", err)
	}

	return runbooks, nil
}

// UpsertUser inserts or refreshes a user registry row. Profile fields are
// overwritten on every login so the registry tracks the identity provider.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, given_name, family_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			updated_at = excluded.updated_at
	`, u.ID, nullString(u.Email), u.DisplayName, nullString(u.GivenName), nullString(u.FamilyName), now, now)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	s.logger.Debug("upserted user", "id", u.ID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetUser retrieves a user registry row by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, given_name, family_name, created_at, updated_at
		FROM users
		WHERE id = ?
	`, id)

	var u User
	var email, givenName, familyName sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(&u.ID, &email, &u.DisplayName, &givenName, &familyName, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Email = email.String
	u.GivenName = givenName.String
	u.FamilyName = familyName.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)

	return &u, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
