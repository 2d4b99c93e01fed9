package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// retryBackoff is the wait before each redelivery attempt. A delivery is
// tried at most len(retryBackoff)+1 times.
var retryBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// Dispatcher sends webhook deliveries to registered subscribers
// asynchronously through a background worker pool.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup
	workers    int
	onOutcome  func(status string)
}

type deliveryJob struct {
	subscriber *Subscription
	eventType  EventType
	eventID    string
	payload    []byte
	attempt    int
}

// NewDispatcher creates a webhook dispatcher with a background worker pool
func NewDispatcher(registry *Registry, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		registry: registry,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		queue:   make(chan *deliveryJob, 1000),
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		workers: workers,
	}

	// Start worker pool
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// SetOutcomeHook wires an observer for delivery outcomes
// ("delivered", "failed", "dropped"). Used for metrics.
func (d *Dispatcher) SetOutcomeHook(hook func(status string)) {
	d.onOutcome = hook
}

func (d *Dispatcher) recordOutcome(status string) {
	if d.onOutcome != nil {
		d.onOutcome(status)
	}
}

// Emit sends a delivery to all registered subscribers for that event type.
// Delivery failure never propagates to the caller.
func (d *Dispatcher) Emit(eventType EventType, delivery *Delivery) {
	subscribers := d.registry.GetSubscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		d.logger.Printf("❌ Failed to marshal webhook delivery: %v", err)
		return
	}

	eventID := uuid.NewString()
	for _, sub := range subscribers {
		job := &deliveryJob{
			subscriber: sub,
			eventType:  eventType,
			eventID:    eventID,
			payload:    payload,
			attempt:    1,
		}
		select {
		case d.queue <- job:
		default:
			d.logger.Printf("⚠️  Webhook queue full, dropping event %s for %s", eventID, sub.ID)
			d.recordOutcome("dropped")
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		d.deliver(job)
	}
}

// deliver posts the payload and walks the backoff schedule on failure. The
// job stays on its worker until it succeeds or the schedule runs out.
func (d *Dispatcher) deliver(job *deliveryJob) {
	for {
		err := d.attempt(job)
		if err == nil {
			d.registry.MarkDelivered(job.subscriber.ID)
			d.recordOutcome("delivered")
			d.logger.Printf("✅ Webhook delivered: %s → %s (%s)", job.eventType, job.subscriber.URL, job.eventID)
			return
		}

		d.logger.Printf("❌ Webhook delivery failed (attempt %d): %s → %v", job.attempt, job.subscriber.URL, err)
		d.registry.MarkFailed(job.subscriber.ID)

		if job.attempt > len(retryBackoff) {
			d.recordOutcome("failed")
			return
		}
		time.Sleep(retryBackoff[job.attempt-1])
		job.attempt++
	}
}

func (d *Dispatcher) attempt(job *deliveryJob) error {
	req, err := http.NewRequest("POST", job.subscriber.URL, bytes.NewReader(job.payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vigil-Event-Type", string(job.eventType))
	req.Header.Set("X-Vigil-Event-ID", job.eventID)
	req.Header.Set("X-Vigil-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))

	// Sign payload if secret is configured
	if job.subscriber.Secret != "" {
		sig := SignPayload(job.payload, job.subscriber.Secret)
		req.Header.Set("X-Vigil-Signature", "sha256="+sig)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

// Shutdown gracefully shuts down the dispatcher
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
