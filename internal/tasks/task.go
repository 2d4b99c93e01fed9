// Package tasks implements the asynchronous assessment pipeline: a Redis
// list broker, a TTL'd result backend, and the worker pool that drains the
// queue through the risk engine and fans results out to the store, the
// event bus, and webhook subscribers.
package tasks

import (
	"github.com/vigilsec/riskengine/internal/risk"
)

// QueueKey is the Redis list holding pending assessment tasks.
const QueueKey = "vigil:tasks:queue"

// Task lifecycle states reported to API clients.
const (
	StatusQueued    = "queued"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is the queued payload for one asynchronous assessment.
type Task struct {
	TaskID          string                `json:"task_id"`
	Identity        risk.IdentityContext  `json:"identity"`
	Event           risk.ActivityEvent    `json:"event"`
	PrivilegeChange *risk.PrivilegeChange `json:"privilege_change,omitempty"`
}
