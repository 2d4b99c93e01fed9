package handlers

import (
	"net/http"

	"github.com/vigilsec/riskengine/internal/middleware"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/stream"
	"github.com/vigilsec/riskengine/internal/tasks"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

// HandleHealth reports liveness.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleStats aggregates operational counters from every subsystem into one
// diagnostic snapshot. Subsystems that are not wired report as absent.
func HandleStats(engine *risk.Engine, broker *tasks.Broker, hub *stream.Hub, registry *webhooks.Registry, limiter *middleware.UserRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]interface{}{
			"engine": engine.GetStats(),
		}

		if broker != nil {
			depth, err := broker.Depth(r.Context())
			if err != nil {
				stats["queue"] = map[string]interface{}{"error": err.Error()}
			} else {
				stats["queue"] = map[string]interface{}{"depth": depth}
			}
		}
		if hub != nil {
			stats["stream"] = hub.MarshalStats()
		}
		if registry != nil {
			stats["webhooks"] = map[string]interface{}{"registered": len(registry.ListAll())}
		}
		if limiter != nil {
			stats["rate_limiter"] = limiter.Stats()
		}

		writeJSON(w, http.StatusOK, stats)
	}
}
