package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tbxark/visaflow/types"
)

const recordsSchema = `CREATE TABLE IF NOT EXISTS workflow_session_records (
	session_id TEXT NOT NULL,
	stage_id TEXT NOT NULL,
	revision BIGINT NOT NULL,
	status TEXT NOT NULL,
	snapshot JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, stage_id)
)`

// PostgresRecordStore is a PostgreSQL implementation of RecordStore.
type PostgresRecordStore struct {
	db *pgxpool.Pool
}

func NewPostgresRecordStore(db *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// EnsureSchema creates the records table when missing.
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, recordsSchema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// Save upserts the record; an older or equal revision never replaces a newer one.
func (s *PostgresRecordStore) Save(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, `INSERT INTO workflow_session_records (session_id, stage_id, revision, status, snapshot, saved_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, stage_id) DO UPDATE
SET revision = EXCLUDED.revision, status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at
WHERE workflow_session_records.revision < EXCLUDED.revision`,
		rec.SessionID, rec.StageID, rec.Revision, string(rec.Status), string(rec.Snapshot), rec.SavedAt)
	return err
}

func (s *PostgresRecordStore) Latest(ctx context.Context, sessionID string) (Record, bool, error) {
	var (
		rec      Record
		status   string
		snapshot string
	)
	err := s.db.QueryRow(ctx, `SELECT session_id, stage_id, revision, status, snapshot::text, saved_at
FROM workflow_session_records WHERE session_id = $1 ORDER BY revision DESC LIMIT 1`, sessionID).
		Scan(&rec.SessionID, &rec.StageID, &rec.Revision, &status, &snapshot, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Status = types.Status(status)
	rec.Snapshot = []byte(snapshot)
	return rec, true, nil
}

func (s *PostgresRecordStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM workflow_session_records WHERE session_id = $1", sessionID)
	return err
}
