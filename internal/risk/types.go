package risk

import (
	"strings"
	"time"
)

// ============================================================================
// CORE DOMAIN TYPES - Events, Identity, Signals, Assessments, Accounts
// ============================================================================

// Enforcement actions, ordered by severity.
const (
	ActionMonitor       = "monitor"
	ActionForceLogout   = "force_logout"
	ActionFreezeAccount = "freeze_account"
)

// Signal names form a closed enumeration; scores are fixed per detector.
const (
	SignalPrivilegeEscalation     = "privilege_escalation"
	SignalPrivilegeDrift          = "privilege_drift"
	SignalAPISequenceAnomaly      = "api_sequence_anomaly"
	SignalTimingAnomaly           = "timing_anomaly"
	SignalMicroservicePivot       = "microservice_pivot"
	SignalSharedIPRisk            = "shared_ip_risk"
	SignalDeviceSprawl            = "device_sprawl"
	SignalMultiActorDetection     = "multi_actor_detection"
	SignalBehaviorRateAnomaly     = "behavior_rate_anomaly"
	SignalBehaviorEndpointAnomaly = "behavior_endpoint_anomaly"
	SignalMLAttackPrediction      = "ml_attack_prediction"
)

// ActivityEvent is one observed request.
type ActivityEvent struct {
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

var adminLikePrefixes = []string{"/admin", "/export", "/internal", "/elevate"}

// RiskSurface scores how exposed this single request is: 1 point for an
// admin-like endpoint plus up to 5 points for outbound volume.
func (e ActivityEvent) RiskSurface() float64 {
	adminScore := 0.0
	for _, prefix := range adminLikePrefixes {
		if strings.HasPrefix(e.Endpoint, prefix) {
			adminScore = 1.0
			break
		}
	}
	volumeScore := float64(e.BytesOut) / 1_000_000
	if volumeScore > 5.0 {
		volumeScore = 5.0
	}
	return adminScore + volumeScore
}

// IdentityContext describes the actor making a request.
type IdentityContext struct {
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip"`
	Geo        string    `json:"geo"`
	UserAgent  string    `json:"user_agent"`
	SessionID  string    `json:"session_id,omitempty"`
	Roles      []string  `json:"roles"`
	Privileges []string  `json:"privileges"`
	Timestamp  time.Time `json:"timestamp"`
}

// PrivilegeChange is an atomic role/privilege delta.
type PrivilegeChange struct {
	PreviousRoles      []string  `json:"previous_roles"`
	NewRoles           []string  `json:"new_roles"`
	PreviousPrivileges []string  `json:"previous_privileges"`
	NewPrivileges      []string  `json:"new_privileges"`
	Timestamp          time.Time `json:"timestamp"`
}

// RiskSignal is one detector finding contributing to the total score.
type RiskSignal struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

// RiskAssessment is the engine output for one event. Signals are ordered by
// detector evaluation order; TotalScore is their exact sum.
type RiskAssessment struct {
	TotalScore         float64      `json:"total_score"`
	Signals            []RiskSignal `json:"signals"`
	Action             string       `json:"action"`
	AccountFrozen      bool         `json:"account_frozen"`
	SessionInvalidated bool         `json:"session_invalidated"`
}

// SessionState tracks one active session on an account.
type SessionState struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	IP        string    `json:"ip"`
}

// AccountState is the per-user account record the engine maintains. Frozen is
// monotonic: once set, nothing in the engine clears it. PrivilegeHistory is
// append-only.
type AccountState struct {
	UserID           string                  `json:"user_id"`
	Sessions         map[string]SessionState `json:"sessions"`
	Frozen           bool                    `json:"frozen"`
	PrivilegeHistory []PrivilegeChange       `json:"privilege_history"`
	LastFingerprint  string                  `json:"last_fingerprint,omitempty"`
}

// NewAccountState creates an empty account record.
func NewAccountState(userID string) *AccountState {
	return &AccountState{
		UserID:   userID,
		Sessions: make(map[string]SessionState),
	}
}

// ActiveDevices returns the distinct devices across live sessions.
func (a *AccountState) ActiveDevices() map[string]struct{} {
	devices := make(map[string]struct{}, len(a.Sessions))
	for _, session := range a.Sessions {
		devices[session.DeviceID] = struct{}{}
	}
	return devices
}

// UpdateSession upserts a session and records its device as the most recent
// fingerprint seen on the account.
func (a *AccountState) UpdateSession(session SessionState) {
	a.Sessions[session.SessionID] = session
	a.LastFingerprint = session.DeviceID
}

// ExpireSession drops a session. Unknown ids are a silent no-op.
func (a *AccountState) ExpireSession(sessionID string) {
	delete(a.Sessions, sessionID)
}

// AccountSummary is the read-only view returned by Engine.Summary.
type AccountSummary struct {
	Frozen         bool               `json:"frozen"`
	ActiveSessions []string           `json:"active_sessions"`
	Behavior       map[string]float64 `json:"behavior"`
	RecentSequence []string           `json:"recent_sequence"`
}
