package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore persists assessment records in a PostgreSQL table. The full
// record is stored as JSONB alongside the columns the API queries on.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ps := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[PostgresStore] ", log.LstdFlags),
	}

	if err := ps.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	ps.logger.Printf("✅ Connected to PostgreSQL")
	return ps, nil
}

func (ps *PostgresStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		task_id     TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		total_score DOUBLE PRECISION NOT NULL,
		action      TEXT NOT NULL,
		payload     JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_user
		ON assessments (user_id, created_at DESC);`

	if _, err := ps.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Save upserts a record by task id.
func (ps *PostgresStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
	INSERT INTO assessments (task_id, user_id, total_score, action, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (task_id) DO UPDATE SET
		user_id     = EXCLUDED.user_id,
		total_score = EXCLUDED.total_score,
		action      = EXCLUDED.action,
		payload     = EXCLUDED.payload`

	var score float64
	var action string
	if rec.Assessment != nil {
		score = rec.Assessment.TotalScore
		action = rec.Assessment.Action
	}

	_, err = ps.db.ExecContext(ctx, query,
		rec.TaskID, rec.Identity.UserID, score, action, payload, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert assessment %s: %w", rec.TaskID, err)
	}
	return nil
}

// GetByTaskID returns the record for a task id, or ErrTaskNotFound.
func (ps *PostgresStore) GetByTaskID(ctx context.Context, taskID string) (*AssessmentRecord, error) {
	var payload []byte
	query := `SELECT payload FROM assessments WHERE task_id = $1`
	err := ps.db.QueryRowContext(ctx, query, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assessment %s: %w", taskID, err)
	}

	var rec AssessmentRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment %s: %w", taskID, err)
	}
	return &rec, nil
}

// ListByUser returns up to limit records for a user, newest first.
func (ps *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*AssessmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT payload FROM assessments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := ps.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments for %s: %w", userID, err)
	}
	defer rows.Close()

	var records []*AssessmentRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec AssessmentRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
