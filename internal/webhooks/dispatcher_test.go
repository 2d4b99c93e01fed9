package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/riskengine/internal/risk"
)

// shrinkBackoff makes redelivery waits negligible for the duration of a test.
func shrinkBackoff(t *testing.T) {
	t.Helper()
	original := retryBackoff
	retryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { retryBackoff = original })
}

func sampleDelivery(taskID string) *Delivery {
	return &Delivery{
		TaskID: taskID,
		Source: "async",
		Identity: risk.IdentityContext{
			UserID:    "user-1",
			SessionID: "s-1",
			DeviceID:  "d-1",
			IP:        "10.0.0.1",
		},
		Event: risk.ActivityEvent{
			Endpoint: "/admin/export",
			Method:   "POST",
		},
		Assessment: &risk.RiskAssessment{
			TotalScore: 60,
			Action:     risk.ActionForceLogout,
			Signals:    []risk.RiskSignal{},
		},
	}
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload([]byte(`{"task_id":"t-1"}`), "whsec_test")
	assert.Equal(t, "508ff755aa2775c162bcd14452041b086e3ffe80a8669a96a9764fe409dd774d", sig)
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	sub := &Subscription{
		URL:    server.URL,
		Events: []EventType{EventAssessmentCompleted},
		Secret: "whsec_test",
	}
	require.NoError(t, registry.Register(sub))

	d := NewDispatcher(registry, 1)
	defer d.Shutdown()

	d.Emit(EventAssessmentCompleted, sampleDelivery("task-42"))

	select {
	case req := <-received:
		body := <-bodies

		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, string(EventAssessmentCompleted), req.Header.Get("X-Vigil-Event-Type"))
		assert.NotEmpty(t, req.Header.Get("X-Vigil-Event-ID"))
		assert.Equal(t, "1", req.Header.Get("X-Vigil-Delivery-Attempt"))
		assert.Equal(t, "sha256="+SignPayload(body, "whsec_test"), req.Header.Get("X-Vigil-Signature"))

		var delivery Delivery
		require.NoError(t, json.Unmarshal(body, &delivery))
		assert.Equal(t, "task-42", delivery.TaskID)
		assert.Equal(t, "async", delivery.Source)
		assert.Equal(t, "user-1", delivery.Identity.UserID)
		assert.Equal(t, 60.0, delivery.Assessment.TotalScore)

	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestDispatcherSkipsUnsignedHeaderWithoutSecret(t *testing.T) {
	received := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&Subscription{
		URL:    server.URL,
		Events: []EventType{EventAssessmentCompleted},
	}))

	d := NewDispatcher(registry, 1)
	defer d.Shutdown()

	d.Emit(EventAssessmentCompleted, sampleDelivery("task-1"))

	select {
	case req := <-received:
		assert.Empty(t, req.Header.Get("X-Vigil-Signature"))
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	shrinkBackoff(t)

	var calls atomic.Int32
	attempts := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts <- r.Header.Get("X-Vigil-Delivery-Attempt")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	sub := &Subscription{URL: server.URL, Events: []EventType{EventAssessmentCompleted}}
	require.NoError(t, registry.Register(sub))

	d := NewDispatcher(registry, 1)
	defer d.Shutdown()

	d.Emit(EventAssessmentCompleted, sampleDelivery("task-1"))

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "1", <-attempts)
	assert.Equal(t, "2", <-attempts)
	assert.Equal(t, "3", <-attempts)

	// Success resets the consecutive failure count
	require.Eventually(t, func() bool {
		got, ok := registry.Get(sub.ID)
		return ok && got.FailCount == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDispatcherGivesUpAfterBackoffSchedule(t *testing.T) {
	shrinkBackoff(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := NewRegistry()
	sub := &Subscription{URL: server.URL, Events: []EventType{EventAssessmentCompleted}}
	require.NoError(t, registry.Register(sub))

	d := NewDispatcher(registry, 1)

	d.Emit(EventAssessmentCompleted, sampleDelivery("task-1"))
	d.Shutdown() // drains the queue, including requeued retries

	// 1 initial attempt + 3 retries
	assert.Equal(t, int32(4), calls.Load())

	got, ok := registry.Get(sub.ID)
	require.True(t, ok)
	assert.Equal(t, 4, got.FailCount)
	assert.True(t, got.Active)
}

func TestRegistryDisablesAfterTenFailures(t *testing.T) {
	registry := NewRegistry()
	sub := &Subscription{URL: "http://example.invalid/hook", Events: []EventType{EventAccountFrozen}}
	require.NoError(t, registry.Register(sub))

	for i := 0; i < 9; i++ {
		registry.MarkFailed(sub.ID)
	}
	assert.Len(t, registry.GetSubscribers(EventAccountFrozen), 1)

	registry.MarkFailed(sub.ID)
	assert.Empty(t, registry.GetSubscribers(EventAccountFrozen))

	got, ok := registry.Get(sub.ID)
	require.True(t, ok)
	assert.False(t, got.Active)
	assert.Equal(t, 10, got.FailCount)
}

func TestRegistryMarkDeliveredResetsCount(t *testing.T) {
	registry := NewRegistry()
	sub := &Subscription{URL: "http://example.invalid/hook", Events: []EventType{EventAccountFrozen}}
	require.NoError(t, registry.Register(sub))

	for i := 0; i < 9; i++ {
		registry.MarkFailed(sub.ID)
	}
	registry.MarkDelivered(sub.ID)

	got, _ := registry.Get(sub.ID)
	assert.Equal(t, 0, got.FailCount)
	assert.True(t, got.Active)
}

func TestRegistryValidation(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&Subscription{Events: []EventType{EventAccountFrozen}})
	assert.Error(t, err)

	err = registry.Register(&Subscription{URL: "http://example.invalid/hook"})
	assert.Error(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	sub := &Subscription{URL: "http://example.invalid/hook", Events: []EventType{EventAssessmentCompleted}}
	require.NoError(t, registry.Register(sub))
	require.Len(t, registry.GetSubscribers(EventAssessmentCompleted), 1)

	require.NoError(t, registry.Unregister(sub.ID))
	assert.Empty(t, registry.GetSubscribers(EventAssessmentCompleted))
	assert.Error(t, registry.Unregister(sub.ID))
}

func TestRegisterDefaultCoversAllEvents(t *testing.T) {
	registry := NewRegistry()
	sub, err := registry.RegisterDefault("http://example.invalid/hook", "whsec_test")
	require.NoError(t, err)

	assert.Len(t, registry.GetSubscribers(EventAssessmentCompleted), 1)
	assert.Len(t, registry.GetSubscribers(EventAccountFrozen), 1)
	assert.Len(t, registry.GetSubscribers(EventSessionInvalidated), 1)
	assert.Equal(t, "whsec_test", sub.Secret)
}
