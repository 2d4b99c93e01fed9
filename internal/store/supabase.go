package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// assessmentRow is the wire shape of the "assessments" table. Timestamps
// travel as strings to match the Supabase format.
type assessmentRow struct {
	TaskID     string  `json:"task_id"`
	UserID     string  `json:"user_id"`
	TotalScore float64 `json:"total_score"`
	Action     string  `json:"action"`
	Payload    string  `json:"payload"`
	CreatedAt  string  `json:"created_at"`
}

// SupabaseStore persists assessment records through the Supabase PostgREST
// API. The table mirrors the PostgreSQL schema with task_id as primary key.
type SupabaseStore struct {
	client *supabase.Client
	logger *log.Logger
}

// NewSupabaseStore creates an AssessmentStore backed by Supabase.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	ss := &SupabaseStore{
		client: client,
		logger: log.New(log.Writer(), "[SupabaseStore] ", log.LstdFlags),
	}

	ss.logger.Printf("✅ Connected to Supabase")
	return ss, nil
}

// Save upserts a record by task id.
func (ss *SupabaseStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var score float64
	var action string
	if rec.Assessment != nil {
		score = rec.Assessment.TotalScore
		action = rec.Assessment.Action
	}

	row := assessmentRow{
		TaskID:     rec.TaskID,
		UserID:     rec.Identity.UserID,
		TotalScore: score,
		Action:     action,
		Payload:    string(payload),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339Nano),
	}

	var result []assessmentRow
	_, err = ss.client.From("assessments").
		Upsert(row, "task_id", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("failed to upsert assessment %s: %w", rec.TaskID, err)
	}
	return nil
}

// GetByTaskID returns the record for a task id, or ErrTaskNotFound.
func (ss *SupabaseStore) GetByTaskID(ctx context.Context, taskID string) (*AssessmentRecord, error) {
	var rows []assessmentRow
	_, err := ss.client.From("assessments").
		Select("payload", "", false).
		Eq("task_id", taskID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment %s: %w", taskID, err)
	}
	if len(rows) == 0 {
		return nil, ErrTaskNotFound
	}

	var rec AssessmentRecord
	if err := json.Unmarshal([]byte(rows[0].Payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment %s: %w", taskID, err)
	}
	return &rec, nil
}

// ListByUser returns up to limit records for a user, newest first.
func (ss *SupabaseStore) ListByUser(ctx context.Context, userID string, limit int) ([]*AssessmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []assessmentRow
	_, err := ss.client.From("assessments").
		Select("payload", "", false).
		Eq("user_id", userID).
		Order("created_at", nil).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments for %s: %w", userID, err)
	}

	records := make([]*AssessmentRecord, 0, len(rows))
	for _, row := range rows {
		var rec AssessmentRecord
		if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Close is a no-op; the Supabase client holds no persistent connection.
func (ss *SupabaseStore) Close() error {
	return nil
}
