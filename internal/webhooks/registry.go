package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/riskengine/internal/risk"
)

// WebhookEmitter is the interface for dispatching webhook deliveries.
// Both the in-memory Dispatcher and CloudDispatcher satisfy this interface.
type WebhookEmitter interface {
	Emit(eventType EventType, delivery *Delivery)
	Shutdown()
}

// EventType defines the types of events that can trigger webhooks
type EventType string

const (
	EventAssessmentCompleted EventType = "vigil.assessment.completed"
	EventAccountFrozen       EventType = "vigil.account.frozen"
	EventSessionInvalidated  EventType = "vigil.session.invalidated"
)

// AllEventTypes lists every event a subscription can register for.
var AllEventTypes = []EventType{
	EventAssessmentCompleted,
	EventAccountFrozen,
	EventSessionInvalidated,
}

// IsValidEventType reports whether t names a known event.
func IsValidEventType(t EventType) bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Subscription represents a registered webhook
type Subscription struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Events    []EventType `json:"events"`
	Secret    string      `json:"-"` // never echoed in admin responses
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	FailCount int         `json:"fail_count"`
}

// Delivery is the JSON body POSTed to subscribers. Source is "sync" for
// assessments served inline by the API and "async" for worker-processed
// tasks; TaskID is empty on the sync path.
type Delivery struct {
	TaskID          string                `json:"task_id"`
	Source          string                `json:"source"`
	Identity        risk.IdentityContext  `json:"identity"`
	Event           risk.ActivityEvent    `json:"event"`
	PrivilegeChange *risk.PrivilegeChange `json:"privilege_change"`
	Assessment      *risk.RiskAssessment  `json:"assessment"`
}

// Registry stores and manages webhook subscriptions
type Registry struct {
	mu          sync.RWMutex
	hooks       map[string]*Subscription // id -> hook
	byEvent     map[EventType][]*Subscription
	logger      *log.Logger
	maxPerEvent int
}

// NewRegistry creates a new webhook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks:       make(map[string]*Subscription),
		byEvent:     make(map[EventType][]*Subscription),
		logger:      log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
		maxPerEvent: 50,
	}
}

// Register adds a webhook subscription
func (r *Registry) Register(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, evt := range sub.Events {
		if len(r.byEvent[evt]) >= r.maxPerEvent {
			return fmt.Errorf("subscriber limit reached for %s", evt)
		}
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Active = true
	sub.CreatedAt = time.Now()
	sub.FailCount = 0

	r.hooks[sub.ID] = sub

	for _, evt := range sub.Events {
		r.byEvent[evt] = append(r.byEvent[evt], sub)
	}

	r.logger.Printf("📡 Registered webhook %s → %s (events: %v)", sub.ID, sub.URL, sub.Events)
	return nil
}

// RegisterDefault registers a catch-all subscription for every event type.
// Used at startup when ASSESSMENT_WEBHOOK_URL is configured.
func (r *Registry) RegisterDefault(url, secret string) (*Subscription, error) {
	sub := &Subscription{
		URL:    url,
		Events: append([]EventType(nil), AllEventTypes...),
		Secret: secret,
	}
	if err := r.Register(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unregister removes a webhook subscription
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}

	delete(r.hooks, id)

	// Remove from event index
	for _, evt := range sub.Events {
		filtered := make([]*Subscription, 0)
		for _, s := range r.byEvent[evt] {
			if s.ID != id {
				filtered = append(filtered, s)
			}
		}
		r.byEvent[evt] = filtered
	}

	r.logger.Printf("🗑️  Unregistered webhook %s", id)
	return nil
}

// GetSubscribers returns all active subscribers for an event type
func (r *Registry) GetSubscribers(eventType EventType) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Subscription
	for _, sub := range r.byEvent[eventType] {
		if sub.Active {
			active = append(active, sub)
		}
	}
	return active
}

// Get returns a subscription by id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.hooks[id]
	return sub, ok
}

// ListAll returns all registered webhooks
func (r *Registry) ListAll() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0, len(r.hooks))
	for _, sub := range r.hooks {
		result = append(result, sub)
	}
	return result
}

// MarkFailed increments the consecutive failure count and disables the
// subscription after 10 failures.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= 10 {
		sub.Active = false
		r.logger.Printf("⚠️  Webhook %s disabled after %d failures", id, sub.FailCount)
	}
}

// MarkDelivered resets the consecutive failure count after a success.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload creates HMAC-SHA256 signature for webhook verification
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
