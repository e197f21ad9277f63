package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emberhaus/ember-core/internal/infrastructure/database"
)

// AuditRecord is one persisted engine run.
type AuditRecord struct {
	ID             string         `json:"id"`
	CorrelationID  string         `json:"correlation_id"`
	SpecID         string         `json:"spec_id"`
	SpecVersion    string         `json:"spec_version"`
	HomeID         string         `json:"home_id"`
	Status         RunStatus      `json:"status"`
	ActionsTotal   int            `json:"actions_total"`
	ActionsOK      int            `json:"actions_ok"`
	ActionsFailed  int            `json:"actions_failed"`
	ActionsSkipped int            `json:"actions_skipped"`
	Failures       []ActionResult `json:"failures,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	DurationMS     int64          `json:"duration_ms"`
}

// SQLiteAuditStore persists execution records to the spec_executions table.
type SQLiteAuditStore struct {
	db *database.DB
}

func NewSQLiteAuditStore(db *database.DB) *SQLiteAuditStore {
	return &SQLiteAuditStore{db: db}
}

// RecordExecution writes one run to the audit trail.
func (s *SQLiteAuditStore) RecordExecution(ctx context.Context, res *ExecutionResult) error {
	ok, skipped, failed, aborted := res.Counts()

	var failuresJSON sql.NullString
	if failures := res.Failures(); len(failures) > 0 {
		b, err := json.Marshal(failures)
		if err != nil {
			return fmt.Errorf("marshal failures: %w", err)
		}
		failuresJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spec_executions (
			id, correlation_id, spec_id, spec_version, home_id, status,
			actions_total, actions_ok, actions_failed, actions_skipped,
			failures, started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		res.CorrelationID,
		res.SpecID,
		res.SpecVersion,
		res.HomeID,
		string(res.Status),
		len(res.Results),
		ok,
		failed+aborted,
		skipped,
		failuresJSON,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.CompletedAt.UTC().Format(time.RFC3339Nano),
		res.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// History returns the most recent runs for a spec, newest first.
func (s *SQLiteAuditStore) History(ctx context.Context, specID, homeID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, spec_id, spec_version, home_id, status,
		       actions_total, actions_ok, actions_failed, actions_skipped,
		       failures, started_at, completed_at, duration_ms
		FROM spec_executions
		WHERE spec_id = ? AND home_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, specID, homeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var out []AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ByCorrelation returns the run matching one correlation id.
func (s *SQLiteAuditStore) ByCorrelation(ctx context.Context, correlationID string) (*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, spec_id, spec_version, home_id, status,
		       actions_total, actions_ok, actions_failed, actions_skipped,
		       failures, started_at, completed_at, duration_ms
		FROM spec_executions
		WHERE correlation_id = ?
		LIMIT 1`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query execution by correlation: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	rec, err := scanAuditRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanAuditRecord(rows *sql.Rows) (AuditRecord, error) {
	var (
		rec        AuditRecord
		status     string
		failures   sql.NullString
		startedAt  string
		completed  sql.NullString
		durationMS sql.NullInt64
	)
	err := rows.Scan(
		&rec.ID, &rec.CorrelationID, &rec.SpecID, &rec.SpecVersion, &rec.HomeID,
		&status, &rec.ActionsTotal, &rec.ActionsOK, &rec.ActionsFailed,
		&rec.ActionsSkipped, &failures, &startedAt, &completed, &durationMS,
	)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("scan execution record: %w", err)
	}

	rec.Status = RunStatus(status)
	if failures.Valid {
		if err := json.Unmarshal([]byte(failures.String), &rec.Failures); err != nil {
			return AuditRecord{}, fmt.Errorf("decode failures: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		rec.StartedAt = t
	}
	if completed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			rec.CompletedAt = t
		}
	}
	if durationMS.Valid {
		rec.DurationMS = durationMS.Int64
	}
	return rec, nil
}
