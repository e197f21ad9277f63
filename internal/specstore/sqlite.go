package specstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberhaus/ember-core/internal/validation"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository over an open
// connection that has had migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const specVersionColumns = `id, spec_id, version, home_id, content_hash, content, created_at, deployed_at, is_active`

// Store persists a spec immutably under its content hash.
func (r *SQLiteRepository) Store(ctx context.Context, spec *validation.AutomationSpec, homeID string, deploy bool) (*SpecVersion, error) {
	if spec == nil || spec.ID == "" || spec.Version == "" {
		return nil, ErrInvalidSpec
	}

	content, hash, err := Canonicalize(spec)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin store tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	existing, err := scanOne(tx.QueryRowContext(ctx,
		`SELECT `+specVersionColumns+` FROM spec_versions WHERE home_id = ? AND content_hash = ?`,
		homeID, hash))
	switch {
	case err == nil:
		// Content addressing: identical content never creates a new row.
		if deploy && !existing.IsActive {
			if err := deployLocked(ctx, tx, existing); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit store tx: %w", err)
		}
		return existing, nil
	case errors.Is(err, sql.ErrNoRows):
		// New content, insert below.
	default:
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	rec := &SpecVersion{
		ID:          uuid.NewString(),
		SpecID:      spec.ID,
		Version:     spec.Version,
		HomeID:      homeID,
		ContentHash: hash,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO spec_versions (`+specVersionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0)`,
		rec.ID, rec.SpecID, rec.Version, rec.HomeID, rec.ContentHash, rec.Content,
		rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s@%s", ErrVersionConflict, spec.ID, spec.Version)
		}
		return nil, fmt.Errorf("insert spec version: %w", err)
	}

	if deploy {
		if err := deployLocked(ctx, tx, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit store tx: %w", err)
	}
	return rec, nil
}

// Get returns the active version, or an explicit version when given.
func (r *SQLiteRepository) Get(ctx context.Context, specID, homeID, version string) (*SpecVersion, error) {
	var row *sql.Row
	if version == "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+specVersionColumns+` FROM spec_versions
			 WHERE spec_id = ? AND home_id = ? AND is_active = 1`,
			specID, homeID)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+specVersionColumns+` FROM spec_versions
			 WHERE spec_id = ? AND home_id = ? AND version = ?`,
			specID, homeID, version)
	}

	rec, err := scanOne(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, specID)
	}
	if err != nil {
		return nil, fmt.Errorf("get spec version: %w", err)
	}
	return rec, nil
}

// History returns every stored version, newest first.
func (r *SQLiteRepository) History(ctx context.Context, specID, homeID string) ([]SpecVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+specVersionColumns+` FROM spec_versions
		 WHERE spec_id = ? AND home_id = ?
		 ORDER BY created_at DESC`,
		specID, homeID)
	if err != nil {
		return nil, fmt.Errorf("query spec history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []SpecVersion
	for rows.Next() {
		rec, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Deploy atomically flips the active pointer to the given version.
func (r *SQLiteRepository) Deploy(ctx context.Context, specID, homeID, version string) (*SpecVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin deploy tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	rec, err := scanOne(tx.QueryRowContext(ctx,
		`SELECT `+specVersionColumns+` FROM spec_versions
		 WHERE spec_id = ? AND home_id = ? AND version = ?`,
		specID, homeID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, specID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup version for deploy: %w", err)
	}

	if err := deployLocked(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deploy tx: %w", err)
	}
	return rec, nil
}

// LastKnownGood returns the most recently deployed non-active version.
func (r *SQLiteRepository) LastKnownGood(ctx context.Context, specID, homeID string) (*SpecVersion, error) {
	rec, err := scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+specVersionColumns+` FROM spec_versions
		 WHERE spec_id = ? AND home_id = ? AND deployed_at IS NOT NULL AND is_active = 0
		 ORDER BY deployed_at DESC
		 LIMIT 1`,
		specID, homeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoDeployedVersion, specID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup last known good: %w", err)
	}
	return rec, nil
}

// deployLocked deactivates all versions for the record's (spec_id,
// home_id) and activates the record, inside the caller's transaction.
// Single-transaction flip keeps the one-active invariant.
func deployLocked(ctx context.Context, tx *sql.Tx, rec *SpecVersion) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE spec_versions SET is_active = 0 WHERE spec_id = ? AND home_id = ?`,
		rec.SpecID, rec.HomeID); err != nil {
		return fmt.Errorf("deactivate prior versions: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE spec_versions SET is_active = 1, deployed_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), rec.ID); err != nil {
		return fmt.Errorf("activate version: %w", err)
	}

	rec.IsActive = true
	rec.DeployedAt = &now
	return nil
}

func scanOne(row *sql.Row) (*SpecVersion, error) {
	return scanVersion(row.Scan)
}

func scanVersion(scan func(...any) error) (*SpecVersion, error) {
	var (
		rec       SpecVersion
		createdAt string
		deployed  sql.NullString
		active    int
	)
	err := scan(&rec.ID, &rec.SpecID, &rec.Version, &rec.HomeID,
		&rec.ContentHash, &rec.Content, &createdAt, &deployed, &active)
	if err != nil {
		return nil, err
	}

	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		rec.CreatedAt = t
	}
	if deployed.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, deployed.String); perr == nil {
			rec.DeployedAt = &t
		}
	}
	rec.IsActive = active == 1
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
