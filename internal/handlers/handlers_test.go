package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/infra"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
	"github.com/vigilsec/riskengine/internal/tasks"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *risk.Engine {
	return risk.NewEngine(risk.DefaultEngineConfig())
}

// escalationBody builds a request whose privilege change grants "write",
// scoring a single 35 point escalation signal.
func escalationBody(t *testing.T, userID string) []byte {
	t.Helper()
	req := AssessRequest{
		Identity: &risk.IdentityContext{
			UserID:     userID,
			DeviceID:   "d-1",
			IP:         "10.0.0.1",
			Geo:        "US",
			UserAgent:  "Mozilla/5.0",
			SessionID:  "s-1",
			Roles:      []string{"user"},
			Privileges: []string{"read"},
			Timestamp:  t0,
		},
		Event: &risk.ActivityEvent{
			Endpoint:  "/profile",
			Method:    "GET",
			Status:    200,
			LatencyMs: 120,
			BytesOut:  512,
			Service:   "svc-profile",
			TraceID:   "tr-1",
			Timestamp: t0,
		},
		PrivilegeChange: &risk.PrivilegeChange{
			PreviousPrivileges: []string{"read"},
			NewPrivileges:      []string{"read", "write"},
			ChangedBy:          "admin-1",
			Timestamp:          t0,
		},
	}
	raw, err := json.Marshal(&req)
	require.NoError(t, err)
	return raw
}

type capturedHook struct {
	eventType webhooks.EventType
	delivery  *webhooks.Delivery
}

type fakeHookEmitter struct {
	mu    sync.Mutex
	calls []capturedHook
}

func (f *fakeHookEmitter) Emit(eventType webhooks.EventType, delivery *webhooks.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, capturedHook{eventType: eventType, delivery: delivery})
}

func (f *fakeHookEmitter) Shutdown() {}

func (f *fakeHookEmitter) snapshot() []capturedHook {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedHook(nil), f.calls...)
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// ==== SYNC ASSESSMENT ====

func TestHandleAssessScoresAndFansOut(t *testing.T) {
	engine := newEngine()
	bus := events.NewEventBus()
	feed := bus.Subscribe(events.TypeAssessmentCompleted)
	hooks := &fakeHookEmitter{}

	handler := HandleAssess(engine, nil, bus, hooks)
	rec := doJSON(t, handler, "POST", "/assess", escalationBody(t, "user-sync"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var assessment risk.RiskAssessment
	decodeBody(t, rec, &assessment)
	assert.InDelta(t, 35.0, assessment.TotalScore, 0.001)
	assert.Equal(t, risk.ActionMonitor, assessment.Action)
	require.Len(t, assessment.Signals, 1)
	assert.Equal(t, risk.SignalPrivilegeEscalation, assessment.Signals[0].Name)
	assert.False(t, assessment.AccountFrozen)
	assert.False(t, assessment.SessionInvalidated)

	select {
	case ev := <-feed:
		assert.Equal(t, events.TypeAssessmentCompleted, ev.Type)
		assert.Equal(t, events.SourceAPI, ev.Source)
		assert.Equal(t, "user-sync", ev.Subject)
		assert.Equal(t, "sync", ev.Data["source"])
		assert.Equal(t, "", ev.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("no bus event published")
	}

	calls := hooks.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, webhooks.EventAssessmentCompleted, calls[0].eventType)
	assert.Equal(t, "sync", calls[0].delivery.Source)
	assert.Empty(t, calls[0].delivery.TaskID)
	assert.Equal(t, "user-sync", calls[0].delivery.Identity.UserID)
}

func TestHandleAssessValidation(t *testing.T) {
	handler := HandleAssess(newEngine(), nil, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"identity":`},
		{"missing identity", `{"event":{"endpoint":"/profile"}}`},
		{"missing user id", `{"identity":{"device_id":"d-1"},"event":{"endpoint":"/profile"}}`},
		{"missing event", `{"identity":{"user_id":"user-1"}}`},
		{"wrong types", `{"identity":"user-1","event":{"endpoint":"/profile"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, "POST", "/assess", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandleAssessDefaultsTimestamps(t *testing.T) {
	engine := newEngine()
	handler := HandleAssess(engine, nil, nil, nil)

	body := []byte(`{"identity":{"user_id":"user-ts"},"event":{"endpoint":"/profile","method":"GET"}}`)
	rec := doJSON(t, handler, "POST", "/assess", body)
	require.Equal(t, http.StatusOK, rec.Code)

	// The engine recorded the event under a real timestamp, not the zero time.
	summary := engine.Summary("user-ts")
	require.Len(t, summary.RecentSequence, 1)
}

// ==== ASYNC ASSESSMENT ====

func newTestAdapter(t *testing.T) (*miniredis.Miniredis, *infra.GoRedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := infra.NewGoRedisAdapterAddr(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return mr, adapter
}

func TestHandleAssessAsyncQueues(t *testing.T) {
	_, adapter := newTestAdapter(t)
	broker := tasks.NewBroker(adapter)

	handler := HandleAssessAsync(broker, nil)
	rec := doJSON(t, handler, "POST", "/assess/async", escalationBody(t, "user-async"))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, tasks.StatusQueued, resp["status"])
	_, err := uuid.Parse(resp["task_id"])
	assert.NoError(t, err)

	depth, err := broker.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestHandleAssessAsyncRejectsBadBody(t *testing.T) {
	_, adapter := newTestAdapter(t)
	broker := tasks.NewBroker(adapter)

	handler := HandleAssessAsync(broker, nil)
	rec := doJSON(t, handler, "POST", "/assess/async", []byte(`{"event":{}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	depth, err := broker.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestHandleAssessAsyncBrokerDown(t *testing.T) {
	mr, adapter := newTestAdapter(t)
	broker := tasks.NewBroker(adapter)
	mr.Close()

	handler := HandleAssessAsync(broker, nil)
	rec := doJSON(t, handler, "POST", "/assess/async", escalationBody(t, "user-down"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ==== TASK STATUS ====

func taskStatusRouter(results *tasks.ResultBackend, records store.AssessmentStore) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tasks/{task_id}", HandleTaskStatus(results, records)).Methods("GET")
	return r
}

func TestHandleTaskStatusPendingWhenUnknown(t *testing.T) {
	_, adapter := newTestAdapter(t)
	results := tasks.NewResultBackend(adapter)

	rec := doJSON(t, taskStatusRouter(results, store.NewMemoryStore()), "GET", "/tasks/nope", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tasks.Result
	decodeBody(t, rec, &resp)
	assert.Equal(t, "nope", resp.TaskID)
	assert.Equal(t, tasks.StatusPending, resp.Status)
	assert.Nil(t, resp.Assessment)
}

func TestHandleTaskStatusFromResultBackend(t *testing.T) {
	_, adapter := newTestAdapter(t)
	results := tasks.NewResultBackend(adapter)

	assessment := &risk.RiskAssessment{TotalScore: 35, Action: risk.ActionMonitor}
	require.NoError(t, results.MarkCompleted(context.Background(), "task-1", assessment))

	rec := doJSON(t, taskStatusRouter(results, store.NewMemoryStore()), "GET", "/tasks/task-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tasks.Result
	decodeBody(t, rec, &resp)
	assert.Equal(t, tasks.StatusCompleted, resp.Status)
	require.NotNil(t, resp.Assessment)
	assert.InDelta(t, 35.0, resp.Assessment.TotalScore, 0.001)
}

func TestHandleTaskStatusFallsBackToStore(t *testing.T) {
	_, adapter := newTestAdapter(t)
	results := tasks.NewResultBackend(adapter)

	records := store.NewMemoryStore()
	rec := &store.AssessmentRecord{
		TaskID:     "task-old",
		Identity:   risk.IdentityContext{UserID: "user-1"},
		Assessment: &risk.RiskAssessment{TotalScore: 60, Action: risk.ActionForceLogout},
		CreatedAt:  t0,
	}
	require.NoError(t, records.Save(context.Background(), rec))

	w := doJSON(t, taskStatusRouter(results, records), "GET", "/tasks/task-old", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp tasks.Result
	decodeBody(t, w, &resp)
	assert.Equal(t, tasks.StatusCompleted, resp.Status)
	require.NotNil(t, resp.Assessment)
	assert.Equal(t, risk.ActionForceLogout, resp.Assessment.Action)
}

// ==== ACCOUNT ENDPOINTS ====

func accountsRouter(engine *risk.Engine, records store.AssessmentStore) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/accounts/{user_id}/summary", HandleAccountSummary(engine)).Methods("GET")
	r.HandleFunc("/accounts/{user_id}/assessments", HandleAccountAssessments(records)).Methods("GET")
	r.HandleFunc("/accounts/{user_id}/freeze", HandleAccountFreeze(engine)).Methods("POST")
	r.HandleFunc("/accounts/{user_id}/reset-sessions", HandleAccountResetSessions(engine)).Methods("POST")
	return r
}

func TestAccountSummaryAndControls(t *testing.T) {
	engine := newEngine()
	router := accountsRouter(engine, store.NewMemoryStore())

	// Seed one event so the account exists with a session.
	assess := HandleAssess(engine, nil, nil, nil)
	doJSON(t, assess, "POST", "/assess", escalationBody(t, "user-acct"))

	rec := doJSON(t, router, "GET", "/accounts/user-acct/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		UserID         string   `json:"user_id"`
		Frozen         bool     `json:"frozen"`
		ActiveSessions int      `json:"active_sessions"`
		RecentSequence []string `json:"recent_sequence"`
	}
	decodeBody(t, rec, &summary)
	assert.Equal(t, "user-acct", summary.UserID)
	assert.False(t, summary.Frozen)
	assert.Equal(t, 1, summary.ActiveSessions)
	assert.Equal(t, []string{"/profile"}, summary.RecentSequence)

	rec = doJSON(t, router, "POST", "/accounts/user-acct/freeze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &summary)
	assert.True(t, summary.Frozen)

	rec = doJSON(t, router, "POST", "/accounts/user-acct/reset-sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &summary)
	assert.Equal(t, 0, summary.ActiveSessions)
}

func TestAccountAssessmentsListsPersistedRecords(t *testing.T) {
	records := store.NewMemoryStore()
	ctx := context.Background()
	for i, taskID := range []string{"t-1", "t-2", "t-3"} {
		rec := &store.AssessmentRecord{
			TaskID:     taskID,
			Identity:   risk.IdentityContext{UserID: "user-hist"},
			Assessment: &risk.RiskAssessment{TotalScore: float64(10 * (i + 1))},
			CreatedAt:  t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, records.Save(ctx, rec))
	}

	router := accountsRouter(newEngine(), records)
	rec := doJSON(t, router, "GET", "/accounts/user-hist/assessments?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID      string                    `json:"user_id"`
		Assessments []*store.AssessmentRecord `json:"assessments"`
		Count       int                       `json:"count"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "user-hist", resp.UserID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Assessments, 2)
	// Newest first.
	assert.Equal(t, "t-3", resp.Assessments[0].TaskID)
	assert.Equal(t, "t-2", resp.Assessments[1].TaskID)
}

func TestAccountAssessmentsRejectsBadLimit(t *testing.T) {
	router := accountsRouter(newEngine(), store.NewMemoryStore())
	rec := doJSON(t, router, "GET", "/accounts/user-1/assessments?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==== WEBHOOK ADMIN ====

func webhookRouter(registry *webhooks.Registry) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhooks", HandleRegisterWebhook(registry)).Methods("POST")
	r.HandleFunc("/webhooks", HandleListWebhooks(registry)).Methods("GET")
	r.HandleFunc("/webhooks/{id}", HandleDeleteWebhook(registry)).Methods("DELETE")
	return r
}

func TestWebhookAdminLifecycle(t *testing.T) {
	registry := webhooks.NewRegistry()
	router := webhookRouter(registry)

	body := []byte(`{"url":"https://hooks.example.com/vigil","events":["vigil.account.frozen"],"secret":"s3cret"}`)
	rec := doJSON(t, router, "POST", "/webhooks", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created webhooks.Subscription
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, []webhooks.EventType{webhooks.EventAccountFrozen}, created.Events)
	// The secret must never appear in admin responses.
	assert.NotContains(t, rec.Body.String(), "s3cret")

	rec = doJSON(t, router, "GET", "/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count    int                      `json:"count"`
		Webhooks []*webhooks.Subscription `json:"webhooks"`
	}
	decodeBody(t, rec, &listing)
	assert.Equal(t, 1, listing.Count)

	rec = doJSON(t, router, "DELETE", "/webhooks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/webhooks", nil)
	decodeBody(t, rec, &listing)
	assert.Equal(t, 0, listing.Count)
}

func TestWebhookRegisterDefaultsToAllEvents(t *testing.T) {
	registry := webhooks.NewRegistry()
	router := webhookRouter(registry)

	rec := doJSON(t, router, "POST", "/webhooks", []byte(`{"url":"https://hooks.example.com/all"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created webhooks.Subscription
	decodeBody(t, rec, &created)
	assert.ElementsMatch(t, webhooks.AllEventTypes, created.Events)
}

func TestWebhookRegisterValidation(t *testing.T) {
	registry := webhooks.NewRegistry()
	router := webhookRouter(registry)

	rec := doJSON(t, router, "POST", "/webhooks", []byte(`{"url":"https://x.example.com","events":["nonsense.event"]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown event type")

	rec = doJSON(t, router, "POST", "/webhooks", []byte(`{"events":["vigil.account.frozen"]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "DELETE", "/webhooks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ==== INFRA ====

func TestHandleHealth(t *testing.T) {
	rec := doJSON(t, HandleHealth(), "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStats(t *testing.T) {
	_, adapter := newTestAdapter(t)
	broker := tasks.NewBroker(adapter)
	registry := webhooks.NewRegistry()

	handler := HandleStats(newEngine(), broker, nil, registry, nil)
	rec := doJSON(t, handler, "GET", "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	decodeBody(t, rec, &stats)
	assert.Contains(t, stats, "engine")
	assert.Contains(t, stats, "queue")
	assert.Contains(t, stats, "webhooks")
	assert.NotContains(t, stats, "stream")

	queue, ok := stats["queue"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, queue["depth"])
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "nope")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
	assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
}
