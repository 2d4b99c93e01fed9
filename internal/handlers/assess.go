package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/metrics"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

// AssessRequest is the body shared by the sync and async assess endpoints.
// Identity and Event are pointers so a missing section is distinguishable
// from an empty one.
type AssessRequest struct {
	Identity        *risk.IdentityContext `json:"identity"`
	Event           *risk.ActivityEvent   `json:"event"`
	PrivilegeChange *risk.PrivilegeChange `json:"privilege_change"`
}

// decodeAssessRequest parses and validates the request body. Validation
// failures surface as 400s before the engine is touched.
func decodeAssessRequest(r *http.Request) (*AssessRequest, error) {
	var req AssessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if req.Identity.UserID == "" {
		return nil, errors.New("identity.user_id is required")
	}
	if req.Event == nil {
		return nil, errors.New("event is required")
	}

	// The service clock stands in for omitted timestamps
	now := time.Now().UTC()
	if req.Identity.Timestamp.IsZero() {
		req.Identity.Timestamp = now
	}
	if req.Event.Timestamp.IsZero() {
		req.Event.Timestamp = now
	}
	return &req, nil
}

// HandleAssess scores one event inline and returns the full assessment.
// The result is fanned out to the event bus and webhook subscribers with
// source "sync" and no task id.
func HandleAssess(engine *risk.Engine, m *metrics.Metrics, bus events.EventEmitter, hooks webhooks.WebhookEmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAssessRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		start := time.Now()
		assessment := engine.AssessEvent(*req.Identity, *req.Event, req.PrivilegeChange)
		if m != nil {
			m.RecordAssessment("sync", &assessment, time.Since(start))
		}

		userID := req.Identity.UserID
		if bus != nil {
			data := map[string]interface{}{
				"task_id":    "",
				"source":     "sync",
				"user_id":    userID,
				"assessment": &assessment,
			}
			bus.Emit(events.TypeAssessmentCompleted, events.SourceAPI, userID, data)
			if assessment.AccountFrozen {
				bus.Emit(events.TypeAccountFrozen, events.SourceAPI, userID, data)
			}
			if assessment.SessionInvalidated {
				bus.Emit(events.TypeSessionInvalidated, events.SourceAPI, userID, data)
			}
		}
		if hooks != nil {
			delivery := &webhooks.Delivery{
				Source:          "sync",
				Identity:        *req.Identity,
				Event:           *req.Event,
				PrivilegeChange: req.PrivilegeChange,
				Assessment:      &assessment,
			}
			hooks.Emit(webhooks.EventAssessmentCompleted, delivery)
			if assessment.AccountFrozen {
				hooks.Emit(webhooks.EventAccountFrozen, delivery)
			}
			if assessment.SessionInvalidated {
				hooks.Emit(webhooks.EventSessionInvalidated, delivery)
			}
		}

		writeJSON(w, http.StatusOK, assessment)
	}
}
