package sdk

import "time"

// Actions returned by the engine, in ascending severity.
const (
	// ActionMonitor — activity recorded, nothing enforced
	ActionMonitor = "monitor"

	// ActionForceLogout — all sessions on the account were invalidated
	ActionForceLogout = "force_logout"

	// ActionFreezeAccount — the account is frozen pending review
	ActionFreezeAccount = "freeze_account"
)

// Task lifecycle states reported by the async endpoints.
const (
	TaskQueued    = "queued"
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// Identity describes who is acting and from where.
type Identity struct {
	// UserID is the account being assessed (required)
	UserID string `json:"user_id"`

	// DeviceID identifies the client device for fingerprinting
	DeviceID string `json:"device_id"`

	// IP is the client address as seen at the edge
	IP string `json:"ip"`

	// Geo is the resolved country code
	Geo string `json:"geo"`

	// UserAgent as presented by the client
	UserAgent string `json:"user_agent"`

	// SessionID links events within one authenticated session
	SessionID string `json:"session_id,omitempty"`

	// Roles and Privileges currently held by the account
	Roles      []string `json:"roles"`
	Privileges []string `json:"privileges"`

	// Timestamp of the observation; the service clock fills a zero value
	Timestamp time.Time `json:"timestamp"`
}

// Event is one observed action on a service.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	Endpoint   string                 `json:"endpoint"`
	Method     string                 `json:"method"`
	StatusCode int                    `json:"status_code"`
	LatencyMs  float64                `json:"latency_ms"`
	BytesIn    int64                  `json:"bytes_in"`
	BytesOut   int64                  `json:"bytes_out"`
	Service    string                 `json:"service"`
	TraceID    string                 `json:"trace_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PrivilegeChange is a role/privilege delta applied alongside the event.
type PrivilegeChange struct {
	PreviousRoles      []string  `json:"previous_roles"`
	NewRoles           []string  `json:"new_roles"`
	PreviousPrivileges []string  `json:"previous_privileges"`
	NewPrivileges      []string  `json:"new_privileges"`
	Timestamp          time.Time `json:"timestamp"`
}

// Signal is one detector finding contributing to the total score.
type Signal struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

// Assessment is the engine verdict for one event.
type Assessment struct {
	// TotalScore is the summed signal score the action was derived from
	TotalScore float64 `json:"total_score"`

	// Signals lists every detector that fired, in pipeline order
	Signals []Signal `json:"signals"`

	// Action is the enforced outcome: monitor, force_logout, freeze_account
	Action string `json:"action"`

	// AccountFrozen and SessionInvalidated report state already applied
	AccountFrozen      bool `json:"account_frozen"`
	SessionInvalidated bool `json:"session_invalidated"`
}

// AsyncTicket is the acknowledgement for a queued assessment.
type AsyncTicket struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResult is the state of a queued assessment.
type TaskResult struct {
	TaskID     string      `json:"task_id"`
	Status     string      `json:"status"`
	Assessment *Assessment `json:"assessment,omitempty"`
}

// AccountSummary is the live state of one account.
type AccountSummary struct {
	UserID         string             `json:"user_id"`
	Frozen         bool               `json:"frozen"`
	ActiveSessions []string           `json:"active_sessions"`
	Behavior       map[string]float64 `json:"behavior"`
	RecentSequence []string           `json:"recent_sequence"`
}
