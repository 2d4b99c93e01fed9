package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
)

const defaultHistoryLimit = 50

// accountResponse is the account view returned by the summary and control
// endpoints.
type accountResponse struct {
	UserID string `json:"user_id"`
	risk.AccountSummary
}

func accountView(engine *risk.Engine, userID string) accountResponse {
	return accountResponse{UserID: userID, AccountSummary: engine.Summary(userID)}
}

// HandleAccountSummary returns the engine's current view of one account.
func HandleAccountSummary(engine *risk.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		writeJSON(w, http.StatusOK, accountView(engine, userID))
	}
}

// HandleAccountFreeze manually freezes an account and returns the refreshed
// summary. Idempotent.
func HandleAccountFreeze(engine *risk.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		engine.FreezeAccount(userID)
		writeJSON(w, http.StatusOK, accountView(engine, userID))
	}
}

// HandleAccountResetSessions invalidates every active session for an account
// and returns the refreshed summary.
func HandleAccountResetSessions(engine *risk.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		engine.ResetSessions(userID)
		writeJSON(w, http.StatusOK, accountView(engine, userID))
	}
}

// HandleAccountAssessments lists persisted assessment records for one user,
// newest first. Only worker-processed tasks are persisted, so this is the
// async audit trail.
func HandleAccountAssessments(records store.AssessmentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		recs := []*store.AssessmentRecord{}
		if records != nil {
			found, err := records.ListByUser(r.Context(), userID, limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "assessment store unavailable")
				return
			}
			if found != nil {
				recs = found
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user_id":     userID,
			"assessments": recs,
			"count":       len(recs),
		})
	}
}
