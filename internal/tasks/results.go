package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vigilsec/riskengine/internal/infra"
	"github.com/vigilsec/riskengine/internal/risk"
)

const (
	resultKeyPrefix = "vigil:tasks:result:"
	resultTTL       = 24 * time.Hour
)

// resultClient is the slice of the Redis adapter the result backend consumes.
type resultClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Result is the task outcome served to polling clients.
type Result struct {
	TaskID     string               `json:"task_id"`
	Status     string               `json:"status"`
	Assessment *risk.RiskAssessment `json:"assessment,omitempty"`
}

// ResultBackend keeps task outcomes in Redis for 24 hours. Older tasks fall
// back to the persistent assessment store.
type ResultBackend struct {
	client resultClient
}

// NewResultBackend creates a result backend on top of a connected Redis client.
func NewResultBackend(client resultClient) *ResultBackend {
	return &ResultBackend{client: client}
}

// MarkCompleted stores the assessment under the task's result key.
func (r *ResultBackend) MarkCompleted(ctx context.Context, taskID string, assessment *risk.RiskAssessment) error {
	result := Result{
		TaskID:     taskID,
		Status:     StatusCompleted,
		Assessment: assessment,
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := r.client.Set(ctx, resultKeyPrefix+taskID, payload, resultTTL); err != nil {
		return fmt.Errorf("store result %s: %w", taskID, err)
	}
	return nil
}

// Fetch returns the stored result. A missing key means the task is unknown
// or still queued, which both read as pending.
func (r *ResultBackend) Fetch(ctx context.Context, taskID string) (*Result, error) {
	raw, err := r.client.Get(ctx, resultKeyPrefix+taskID)
	if err != nil {
		if errors.Is(err, infra.ErrNotFound) {
			return &Result{TaskID: taskID, Status: StatusPending}, nil
		}
		return nil, fmt.Errorf("fetch result %s: %w", taskID, err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return &result, nil
}
