package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CloudDispatcher uses Google Cloud Tasks for durable, at-least-once webhook
// delivery. Each Emit() enqueues one HTTP task per matching subscriber.
//
// Cloud Tasks handles:
//   - Retry with exponential backoff (configured at queue level)
//   - Dead-letter queue (DLQ) for permanently failed deliveries
//   - Rate limiting per queue
//
// Falls back to the in-memory Dispatcher if enqueueing fails.
type CloudDispatcher struct {
	registry      *Registry
	client        *cloudtasks.Client
	queuePath     string
	logger        *log.Logger
	fallback      *Dispatcher   // in-memory fallback for local dev
	scheduleDelay time.Duration // deliver no earlier than now+delay
}

// NewCloudDispatcher creates a Cloud Tasks-backed webhook dispatcher.
// projectID, locationID, queueID identify the Cloud Tasks queue.
// If fallbackWorkers > 0, an in-memory Dispatcher is also created as fallback.
func NewCloudDispatcher(
	registry *Registry,
	projectID, locationID, queueID string,
	fallbackWorkers int,
) (*CloudDispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s",
		projectID, locationID, queueID)

	cd := &CloudDispatcher{
		registry:  registry,
		client:    client,
		queuePath: queuePath,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
	}

	// Optionally create in-memory fallback
	if fallbackWorkers > 0 {
		cd.fallback = NewDispatcher(registry, fallbackWorkers)
	}

	cd.logger.Printf("✅ Connected to Cloud Tasks queue: %s", queuePath)
	return cd, nil
}

// SetScheduleDelay delays every delivery by d, smoothing bursts of
// assessments into the receiver's rate limit.
func (cd *CloudDispatcher) SetScheduleDelay(d time.Duration) {
	cd.scheduleDelay = d
}

// SetOutcomeHook forwards delivery outcomes from the in-memory fallback.
// Cloud Tasks deliveries report through the queue's own monitoring.
func (cd *CloudDispatcher) SetOutcomeHook(hook func(status string)) {
	if cd.fallback != nil {
		cd.fallback.SetOutcomeHook(hook)
	}
}

// Emit enqueues one Cloud Task per matching subscriber. Each task is an HTTP
// POST to the subscriber URL with the signed delivery payload.
func (cd *CloudDispatcher) Emit(eventType EventType, delivery *Delivery) {
	subscribers := cd.registry.GetSubscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		cd.logger.Printf("❌ Failed to marshal webhook delivery: %v", err)
		return
	}

	eventID := uuid.NewString()
	for _, sub := range subscribers {
		cd.enqueueTask(sub, eventType, eventID, payload, delivery)
	}
}

// enqueueTask creates a single Cloud Task for a webhook subscriber.
func (cd *CloudDispatcher) enqueueTask(sub *Subscription, eventType EventType, eventID string, payload []byte, delivery *Delivery) {
	headers := map[string]string{
		"Content-Type":             "application/json",
		"X-Vigil-Event-Type":       string(eventType),
		"X-Vigil-Event-ID":         eventID,
		"X-Vigil-Delivery-Attempt": "1",
	}

	// Sign payload if secret is configured
	if sub.Secret != "" {
		sig := SignPayload(payload, sub.Secret)
		headers["X-Vigil-Signature"] = "sha256=" + sig
	}

	task := &taskspb.Task{
		MessageType: &taskspb.Task_HttpRequest{
			HttpRequest: &taskspb.HttpRequest{
				HttpMethod: taskspb.HttpMethod_POST,
				Url:        sub.URL,
				Headers:    headers,
				Body:       payload,
			},
		},
	}
	if cd.scheduleDelay > 0 {
		task.ScheduleTime = timestamppb.New(time.Now().Add(cd.scheduleDelay))
	}

	req := &taskspb.CreateTaskRequest{
		Parent: cd.queuePath,
		Task:   task,
	}

	// Non-blocking: enqueue in a goroutine to avoid latency in the hot path
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		created, err := cd.client.CreateTask(ctx, req)
		if err != nil {
			cd.logger.Printf("❌ Cloud Task enqueue failed: %s → %s: %v",
				eventID, sub.URL, err)

			// Fall back to in-memory delivery if available
			if cd.fallback != nil {
				cd.logger.Printf("↩️  Falling back to in-memory delivery for %s", eventID)
				cd.fallback.Emit(eventType, delivery)
			}
			return
		}

		cd.logger.Printf("📤 Enqueued Cloud Task: %s → %s (task=%s)",
			eventID, sub.URL, created.GetName())
	}()
}

// Shutdown gracefully shuts down the Cloud Tasks client and fallback dispatcher.
func (cd *CloudDispatcher) Shutdown() {
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		cd.logger.Printf("⚠️ Cloud Tasks client close error: %v", err)
	}
	cd.logger.Printf("🔌 Cloud Tasks dispatcher closed")
}

// MarshalStats returns basic telemetry about the dispatcher.
func (cd *CloudDispatcher) MarshalStats() map[string]interface{} {
	return map[string]interface{}{
		"backend":      "gcp-cloud-tasks",
		"queue":        cd.queuePath,
		"subscribers":  len(cd.registry.ListAll()),
		"has_fallback": cd.fallback != nil,
	}
}

// ensure interface compatibility
var _ WebhookEmitter = (*CloudDispatcher)(nil)
