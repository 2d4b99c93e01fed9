package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vigilsec/riskengine/internal/webhooks"
)

// webhookRegistration is the admin request body for a new subscription.
type webhookRegistration struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// HandleRegisterWebhook adds a webhook subscription. An empty events list
// subscribes to everything. The secret is stored but never echoed back.
func HandleRegisterWebhook(registry *webhooks.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhookRegistration
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}

		eventTypes := make([]webhooks.EventType, 0, len(req.Events))
		for _, name := range req.Events {
			et := webhooks.EventType(name)
			if !webhooks.IsValidEventType(et) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", name))
				return
			}
			eventTypes = append(eventTypes, et)
		}
		if len(eventTypes) == 0 {
			eventTypes = append(eventTypes, webhooks.AllEventTypes...)
		}

		sub := &webhooks.Subscription{
			URL:    req.URL,
			Events: eventTypes,
			Secret: req.Secret,
		}
		if err := registry.Register(sub); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, sub)
	}
}

// HandleListWebhooks returns every registered subscription.
func HandleListWebhooks(registry *webhooks.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs := registry.ListAll()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"webhooks": subs,
			"count":    len(subs),
		})
	}
}

// HandleDeleteWebhook removes a subscription by id.
func HandleDeleteWebhook(registry *webhooks.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := registry.Unregister(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
	}
}
