package sdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// SessionGuard is HTTP middleware that assesses every inbound request before
// it reaches the handler. Requests whose verdict cuts the session are
// answered with 403 and never served.
//
// The guard reads identity from headers the authenticating edge is expected
// to set: X-Vigil-User (required), X-Vigil-Device, X-Vigil-Session,
// X-Vigil-Geo and X-Vigil-Service. Requests without X-Vigil-User pass
// through unassessed, as do requests when Vigil itself is unreachable.
//
// Usage with standard net/http:
//
//	mux.Handle("/api/", sdk.SessionGuard(client, apiHandler))
//
// Usage with Gorilla Mux:
//
//	router.Use(sdk.SessionGuardFunc(client))
func SessionGuard(client *Client, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-Vigil-User")
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity := Identity{
			UserID:    userID,
			DeviceID:  r.Header.Get("X-Vigil-Device"),
			IP:        clientIP(r),
			Geo:       r.Header.Get("X-Vigil-Geo"),
			UserAgent: r.UserAgent(),
			SessionID: r.Header.Get("X-Vigil-Session"),
			Timestamp: time.Now().UTC(),
		}
		event := Event{
			Timestamp: identity.Timestamp,
			Endpoint:  r.URL.Path,
			Method:    r.Method,
			BytesIn:   r.ContentLength,
			Service:   r.Header.Get("X-Vigil-Service"),
			TraceID:   r.Header.Get("X-Request-ID"),
		}

		assessment, err := client.Assess(r.Context(), identity, event, nil)
		if err != nil {
			// Scoring must not take the guarded service down with it.
			slog.Warn("Vigil unreachable, allowing through", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-Vigil-Action", assessment.Action)
		if assessment.Action == ActionForceLogout || assessment.Action == ActionFreezeAccount {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "session terminated by risk policy",
				"action":      assessment.Action,
				"total_score": assessment.TotalScore,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SessionGuardFunc returns Gorilla Mux compatible middleware.
func SessionGuardFunc(client *Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return SessionGuard(client, next)
	}
}

// WrapHTTPClient returns an http.Client whose outbound calls are reported to
// Vigil as activity events for the given identity. Reporting is asynchronous
// and best-effort; the wrapped call is never delayed or failed by it.
//
//	tapped := sdk.WrapHTTPClient(vigil, serviceIdentity, http.DefaultClient)
//	resp, err := tapped.Get("https://internal-api/export")
func WrapHTTPClient(client *Client, identity Identity, wrapped *http.Client) *http.Client {
	return &http.Client{
		Timeout: wrapped.Timeout,
		Transport: &tappedTransport{
			client:   client,
			identity: identity,
			wrapped:  wrapped.Transport,
		},
	}
}

type tappedTransport struct {
	client   *Client
	identity Identity
	wrapped  http.RoundTripper
}

func (t *tappedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	transport := t.wrapped
	if transport == nil {
		transport = http.DefaultTransport
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	event := Event{
		Timestamp:  start.UTC(),
		Endpoint:   req.URL.Path,
		Method:     req.Method,
		StatusCode: resp.StatusCode,
		LatencyMs:  float64(time.Since(start)) / float64(time.Millisecond),
		BytesOut:   resp.ContentLength,
		Service:    req.URL.Host,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, reportErr := t.client.AssessAsync(ctx, t.identity, event, nil); reportErr != nil {
			slog.Warn("Vigil egress report failed", "host", event.Service, "error", reportErr)
		}
	}()

	return resp, nil
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
