package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vigilsec/riskengine/internal/metrics"
	"github.com/vigilsec/riskengine/internal/store"
	"github.com/vigilsec/riskengine/internal/tasks"
)

// HandleAssessAsync validates the request, queues it for a worker and
// returns 202 with the task id. A broker failure is a 503: the caller can
// fall back to the synchronous endpoint.
func HandleAssessAsync(broker *tasks.Broker, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAssessRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		taskID, err := broker.Enqueue(r.Context(), *req.Identity, *req.Event, req.PrivilegeChange)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
			return
		}
		if m != nil {
			m.RecordTaskQueued()
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": taskID,
			"status":  tasks.StatusQueued,
		})
	}
}

// HandleTaskStatus reports the outcome of an async assessment. The Redis
// result backend answers for fresh tasks; the persistent store covers
// results that outlived the 24 hour result TTL. Anything neither of them
// knows reads as pending.
func HandleTaskStatus(results *tasks.ResultBackend, records store.AssessmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)["task_id"]
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "task_id is required")
			return
		}

		if results != nil {
			res, err := results.Fetch(r.Context(), taskID)
			if err == nil && res.Status == tasks.StatusCompleted {
				writeJSON(w, http.StatusOK, res)
				return
			}
		}

		if records != nil {
			rec, err := records.GetByTaskID(r.Context(), taskID)
			if err == nil && rec.Assessment != nil {
				writeJSON(w, http.StatusOK, &tasks.Result{
					TaskID:     taskID,
					Status:     tasks.StatusCompleted,
					Assessment: rec.Assessment,
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, &tasks.Result{TaskID: taskID, Status: tasks.StatusPending})
	}
}
