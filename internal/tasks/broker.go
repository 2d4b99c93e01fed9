package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/riskengine/internal/infra"
	"github.com/vigilsec/riskengine/internal/risk"
)

// ErrNoTask reports an empty queue poll; callers loop and poll again.
var ErrNoTask = errors.New("tasks: no task available")

// queueClient is the slice of the Redis adapter the broker consumes.
type queueClient interface {
	LPush(ctx context.Context, key string, value []byte) error
	BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// Broker queues assessment tasks on a Redis list. Producers LPUSH, workers
// BRPOP, so tasks are processed in submission order.
type Broker struct {
	client queueClient
	logger *log.Logger
}

// NewBroker creates a broker on top of a connected Redis client.
func NewBroker(client queueClient) *Broker {
	return &Broker{
		client: client,
		logger: log.New(log.Writer(), "[Broker] ", log.LstdFlags),
	}
}

// Enqueue assigns a task id and pushes the task onto the queue.
func (b *Broker) Enqueue(ctx context.Context, identity risk.IdentityContext, event risk.ActivityEvent, change *risk.PrivilegeChange) (string, error) {
	task := &Task{
		TaskID:          uuid.NewString(),
		Identity:        identity,
		Event:           event,
		PrivilegeChange: change,
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	if err := b.client.LPush(ctx, QueueKey, payload); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	b.logger.Printf("📥 Queued task %s for user %s", task.TaskID, identity.UserID)
	return task.TaskID, nil
}

// Dequeue blocks up to timeout for the next task. Returns ErrNoTask when the
// queue stayed empty.
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	raw, err := b.client.BRPop(ctx, timeout, QueueKey)
	if err != nil {
		if errors.Is(err, infra.ErrNotFound) {
			return nil, ErrNoTask
		}
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// Depth returns the number of tasks waiting in the queue.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, QueueKey)
}
