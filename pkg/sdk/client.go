// Package sdk provides the Vigil client for Go services.
//
// Embed it wherever a service needs a risk verdict on user activity before
// honoring it, or wants its traffic audited by the assessment pipeline.
//
// Three integration patterns:
//
//  1. Direct: client.Assess(ctx, identity, event, nil) — score one action
//  2. Middleware: sdk.SessionGuard(client, handler) — assess every inbound request
//  3. Egress tap: sdk.WrapHTTPClient(client, identity, httpClient) — report outbound calls
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://vigil.yourcompany.com",
//	    APIKey:  os.Getenv("VIGIL_API_KEY"),
//	    OnFreeze: func(a *sdk.Assessment) {
//	        alerting.Page("account frozen, score %.0f", a.TotalScore)
//	    },
//	})
//
//	assessment, err := client.Assess(ctx, identity, event, nil)
//	if assessment.Action != sdk.ActionMonitor {
//	    // Risky session: the engine already cut it, stop serving it.
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the Vigil SDK configuration.
type Config struct {
	// BaseURL is the Vigil API endpoint (required).
	// Examples: "https://vigil.yourcompany.com", "http://localhost:8080"
	BaseURL string

	// APIKey authenticates operator endpoints (account summary, freeze,
	// reset). Scoring endpoints work without it.
	APIKey string

	// Timeout for assessment calls (default 30s).
	Timeout time.Duration

	// OnForceLogout is called when an assessment invalidates the sessions.
	OnForceLogout func(a *Assessment)

	// OnFreeze is called when an assessment freezes the account.
	OnFreeze func(a *Assessment)
}

// Client talks to the Vigil assessment API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a Vigil SDK client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vigil: api returned %d: %s", e.StatusCode, e.Message)
}

// Assess scores one action synchronously. The returned assessment reflects
// state the engine has already applied: a freeze_account verdict means the
// account is frozen by the time this returns.
func (c *Client) Assess(ctx context.Context, identity Identity, event Event, change *PrivilegeChange) (*Assessment, error) {
	var assessment Assessment
	err := c.do(ctx, "POST", "/assess", assessPayload{
		Identity:        &identity,
		Event:           &event,
		PrivilegeChange: change,
	}, &assessment)
	if err != nil {
		return nil, err
	}

	switch assessment.Action {
	case ActionForceLogout:
		if c.config.OnForceLogout != nil {
			c.config.OnForceLogout(&assessment)
		}
	case ActionFreezeAccount:
		if c.config.OnFreeze != nil {
			c.config.OnFreeze(&assessment)
		}
	}

	return &assessment, nil
}

// AssessAsync queues an assessment and returns immediately with a task
// ticket. Poll Task with the ticket's ID for the verdict.
func (c *Client) AssessAsync(ctx context.Context, identity Identity, event Event, change *PrivilegeChange) (*AsyncTicket, error) {
	var ticket AsyncTicket
	err := c.do(ctx, "POST", "/assess/async", assessPayload{
		Identity:        &identity,
		Event:           &event,
		PrivilegeChange: change,
	}, &ticket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Task fetches the state of a queued assessment. Unknown task IDs come back
// as pending, not as an error.
func (c *Client) Task(ctx context.Context, taskID string) (*TaskResult, error) {
	var result TaskResult
	if err := c.do(ctx, "GET", "/tasks/"+taskID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AccountSummary fetches the live account state. Requires an API key.
func (c *Client) AccountSummary(ctx context.Context, userID string) (*AccountSummary, error) {
	var summary AccountSummary
	if err := c.do(ctx, "GET", "/accounts/"+userID+"/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// FreezeAccount manually freezes an account. Idempotent. Requires an API key.
func (c *Client) FreezeAccount(ctx context.Context, userID string) (*AccountSummary, error) {
	var summary AccountSummary
	if err := c.do(ctx, "POST", "/accounts/"+userID+"/freeze", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ResetSessions invalidates every active session on an account. Requires an
// API key.
func (c *Client) ResetSessions(ctx context.Context, userID string) (*AccountSummary, error) {
	var summary AccountSummary
	if err := c.do(ctx, "POST", "/accounts/"+userID+"/reset-sessions", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

type assessPayload struct {
	Identity        *Identity        `json:"identity"`
	Event           *Event           `json:"event"`
	PrivilegeChange *PrivilegeChange `json:"privilege_change,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("vigil: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("vigil: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vigil: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vigil: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("vigil: parse response: %w", err)
		}
	}
	return nil
}
