package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

// SpannerStore persists assessment records in a Cloud Spanner table:
//
//	CREATE TABLE Assessments (
//	    TaskID     STRING(64) NOT NULL,
//	    UserID     STRING(256) NOT NULL,
//	    TotalScore FLOAT64 NOT NULL,
//	    Action     STRING(32) NOT NULL,
//	    Payload    STRING(MAX) NOT NULL,
//	    CreatedAt  TIMESTAMP NOT NULL,
//	) PRIMARY KEY (TaskID)
type SpannerStore struct {
	client *spanner.Client
	logger *log.Logger
}

// NewSpannerStore creates an AssessmentStore backed by Spanner.
func NewSpannerStore(project, instance, dbName string) (*SpannerStore, error) {
	ctx := context.Background()
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, dbName)

	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}

	ss := &SpannerStore{
		client: client,
		logger: log.New(log.Writer(), "[SpannerStore] ", log.LstdFlags),
	}

	ss.logger.Printf("✅ Connected to Spanner: %s", dbPath)
	return ss, nil
}

// Save upserts a record by task id using an InsertOrUpdate mutation.
func (ss *SpannerStore) Save(ctx context.Context, rec *AssessmentRecord) error {
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

	_, err = ss.client.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate("Assessments",
			[]string{"TaskID", "UserID", "TotalScore", "Action", "Payload", "CreatedAt"},
			[]interface{}{rec.TaskID, rec.Identity.UserID, score, action, string(payload), rec.CreatedAt},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert assessment %s: %w", rec.TaskID, err)
	}
	return nil
}

// GetByTaskID returns the record for a task id, or ErrTaskNotFound.
func (ss *SpannerStore) GetByTaskID(ctx context.Context, taskID string) (*AssessmentRecord, error) {
	row, err := ss.client.Single().ReadRow(ctx, "Assessments", spanner.Key{taskID}, []string{"Payload"})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read assessment %s: %w", taskID, err)
	}

	var payload string
	if err := row.Columns(&payload); err != nil {
		return nil, err
	}

	var rec AssessmentRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment %s: %w", taskID, err)
	}
	return &rec, nil
}

// ListByUser returns up to limit records for a user, newest first.
// Uses a stale read (15-second staleness) for performance.
func (ss *SpannerStore) ListByUser(ctx context.Context, userID string, limit int) ([]*AssessmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	roTx := ss.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(15 * time.Second))
	defer roTx.Close()

	stmt := spanner.Statement{
		SQL: `SELECT Payload FROM Assessments
		      WHERE UserID = @userID
		      ORDER BY CreatedAt DESC
		      LIMIT @limit`,
		Params: map[string]interface{}{"userID": userID, "limit": int64(limit)},
	}

	iter := roTx.Query(ctx, stmt)
	defer iter.Stop()

	var records []*AssessmentRecord
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var payload string
		if err := row.Columns(&payload); err != nil {
			return nil, err
		}

		var rec AssessmentRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Close closes the Spanner client.
func (ss *SpannerStore) Close() error {
	ss.client.Close()
	return nil
}
