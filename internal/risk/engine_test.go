package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// END-TO-END ENGINE TESTS
// ============================================================================

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeIdentity(userID, deviceID, ip, sessionID string, ts time.Time) IdentityContext {
	return IdentityContext{
		UserID:     userID,
		DeviceID:   deviceID,
		IP:         ip,
		Geo:        "US",
		UserAgent:  "Mozilla/5.0",
		SessionID:  sessionID,
		Roles:      []string{"user"},
		Privileges: []string{"read"},
		Timestamp:  ts,
	}
}

func makeEvent(ts time.Time, endpoint, service, traceID string) ActivityEvent {
	return ActivityEvent{
		Timestamp:  ts,
		Endpoint:   endpoint,
		Method:     "GET",
		StatusCode: 200,
		LatencyMs:  120,
		BytesIn:    100,
		BytesOut:   512,
		Service:    service,
		TraceID:    traceID,
	}
}

func signalNames(assessment RiskAssessment) []string {
	names := make([]string, 0, len(assessment.Signals))
	for _, signal := range assessment.Signals {
		names = append(names, signal.Name)
	}
	return names
}

func TestPrivilegeEscalationAloneIsMonitored(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	identity := IdentityContext{
		UserID: "u", DeviceID: "d", IP: "1.1.1.1", Geo: "US",
		UserAgent: "a", SessionID: "s", Timestamp: t0,
	}
	event := ActivityEvent{
		Timestamp: t0, Endpoint: "/x", Method: "GET", StatusCode: 200,
		LatencyMs: 100, Service: "svc", TraceID: "tr",
	}
	change := &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "write"},
		Timestamp:          t0,
	}

	assessment := engine.AssessEvent(identity, event, change)

	require.Len(t, assessment.Signals, 1)
	assert.Equal(t, SignalPrivilegeEscalation, assessment.Signals[0].Name)
	assert.Equal(t, 35.0, assessment.Signals[0].Score)
	assert.Equal(t, "Privileges added: [write]", assessment.Signals[0].Detail)
	assert.Equal(t, 35.0, assessment.TotalScore)
	assert.Equal(t, ActionMonitor, assessment.Action)
	assert.False(t, assessment.AccountFrozen)
	assert.False(t, assessment.SessionInvalidated)
}

func TestGradualPrivilegeDriftFiresAlongsideEscalation(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "device-1", "192.168.1.10", "s-1", t0)

	changes := []*PrivilegeChange{
		{PreviousPrivileges: []string{"read"}, NewPrivileges: []string{"read", "write"}, Timestamp: t0},
		{PreviousPrivileges: []string{"read", "write"}, NewPrivileges: []string{"read", "write", "delete"}, Timestamp: t0.Add(time.Minute)},
		{PreviousPrivileges: []string{"read", "write", "delete"}, NewPrivileges: []string{"read", "write", "delete", "export"}, Timestamp: t0.Add(2 * time.Minute)},
	}

	var assessment RiskAssessment
	for i, change := range changes {
		ts := t0.Add(time.Duration(i) * time.Minute)
		identity.Timestamp = ts
		assessment = engine.AssessEvent(identity, makeEvent(ts, "/x", "svc", "tr-1"), change)
	}

	require.Len(t, assessment.Signals, 2)
	assert.Equal(t, SignalPrivilegeEscalation, assessment.Signals[0].Name)
	assert.Equal(t, "Privileges added: [export]", assessment.Signals[0].Detail)
	assert.Equal(t, SignalPrivilegeDrift, assessment.Signals[1].Name)
	assert.Equal(t, 20.0, assessment.Signals[1].Score)
	assert.Equal(t, "Privileges drifted upward: [export]", assessment.Signals[1].Detail)
	assert.Equal(t, 55.0, assessment.TotalScore)
	assert.Equal(t, ActionMonitor, assessment.Action)
}

func TestRareTransitionFlagsSequenceAnomaly(t *testing.T) {
	config := DefaultEngineConfig()
	config.MediumRiskThreshold = 15
	engine := NewEngine(config)
	identity := makeIdentity("user-1", "device-1", "192.168.1.10", "s-1", t0)

	// Establish a /profile -> /profile habit.
	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		identity.Timestamp = ts
		engine.AssessEvent(identity, makeEvent(ts, "/profile", "profile", "t-1"), nil)
	}

	ts := t0.Add(10 * time.Minute)
	identity.Timestamp = ts
	assessment := engine.AssessEvent(identity, makeEvent(ts, "/admin/export", "profile", "t-1"), nil)

	require.Len(t, assessment.Signals, 2)
	assert.Equal(t, SignalAPISequenceAnomaly, assessment.Signals[0].Name)
	assert.Equal(t, 30.0, assessment.Signals[0].Score)
	assert.Equal(t, "Unexpected transition from /profile to /admin/export", assessment.Signals[0].Detail)
	// The predictor self-bootstrapped on the habitual traffic and now also
	// objects to the admin hit.
	assert.Equal(t, SignalMLAttackPrediction, assessment.Signals[1].Name)
	assert.Equal(t, 30.0, assessment.Signals[1].Score)
	assert.Equal(t, 60.0, assessment.TotalScore)
	assert.Equal(t, ActionForceLogout, assessment.Action)
	assert.True(t, assessment.SessionInvalidated)
}

func TestMultiActorDetection(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	first := makeIdentity("user-1", "d1", "1.1.1.1", "s-1", t0)
	engine.AssessEvent(first, makeEvent(t0, "/x", "svc", "tr-1"), nil)

	second := makeIdentity("user-1", "d2", "2.2.2.2", "s-2", t0.Add(5*time.Minute))
	assessment := engine.AssessEvent(second, makeEvent(t0.Add(5*time.Minute), "/x", "svc", "tr-2"), nil)

	require.Len(t, assessment.Signals, 1)
	assert.Equal(t, SignalMultiActorDetection, assessment.Signals[0].Name)
	assert.Equal(t, 25.0, assessment.Signals[0].Score)
	assert.Equal(t, 25.0, assessment.TotalScore)
	assert.Equal(t, ActionMonitor, assessment.Action)
}

func TestTimingOutlierAfterWarmup(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "device-1", "192.168.1.10", "s-1", t0)

	event := func(ts time.Time, latency float64) ActivityEvent {
		return ActivityEvent{
			Timestamp: ts, Endpoint: "/p", Method: "GET", StatusCode: 200,
			LatencyMs: latency, BytesOut: 512, Service: "svc", TraceID: "tr-1",
		}
	}

	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		identity.Timestamp = ts
		engine.AssessEvent(identity, event(ts, 100), nil)
	}

	ts := t0.Add(5 * time.Minute)
	identity.Timestamp = ts
	assessment := engine.AssessEvent(identity, event(ts, 1000), nil)

	require.Contains(t, signalNames(assessment), SignalTimingAnomaly)
	for _, signal := range assessment.Signals {
		if signal.Name == SignalTimingAnomaly {
			assert.Equal(t, 15.0, signal.Score)
			assert.Equal(t, "Latency 1000.00ms diverges from mean 100.00ms", signal.Detail)
		}
	}
	assert.Equal(t, ActionMonitor, assessment.Action)
}

func TestHighRiskFreezesAccount(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	assess := func(ts time.Time, deviceID, ip, endpoint string, change *PrivilegeChange) RiskAssessment {
		identity := makeIdentity("user-6", deviceID, ip, "s-6", ts)
		return engine.AssessEvent(identity, makeEvent(ts, endpoint, "svc", "tr-6"), change)
	}

	// Two prior escalations build privilege history; habitual /a traffic
	// builds the transition table.
	assess(t0, "d1", "1.1.1.1", "/a", &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "write"},
		Timestamp:          t0,
	})
	assess(t0.Add(time.Minute), "d1", "1.1.1.1", "/a", &PrivilegeChange{
		PreviousPrivileges: []string{"read", "write"},
		NewPrivileges:      []string{"read", "write", "delete"},
		Timestamp:          t0.Add(time.Minute),
	})
	assess(t0.Add(90*time.Second), "d1", "1.1.1.1", "/a", nil)

	// New device + new IP + rare transition + third escalation in the
	// drift window, all at once.
	assessment := assess(t0.Add(2*time.Minute), "d2", "2.2.2.2", "/admin/export", &PrivilegeChange{
		PreviousPrivileges: []string{"read", "write", "delete"},
		NewPrivileges:      []string{"read", "write", "delete", "export"},
		Timestamp:          t0.Add(2 * time.Minute),
	})

	require.Equal(t, []string{
		SignalMultiActorDetection,
		SignalAPISequenceAnomaly,
		SignalPrivilegeEscalation,
		SignalPrivilegeDrift,
	}, signalNames(assessment))
	assert.Equal(t, 110.0, assessment.TotalScore)
	assert.Equal(t, ActionFreezeAccount, assessment.Action)
	assert.True(t, assessment.AccountFrozen)
	assert.True(t, engine.Summary("user-6").Frozen)

	// Freeze is monotonic: benign traffic afterwards never clears it.
	followup := assess(t0.Add(3*time.Minute), "d2", "2.2.2.2", "/a", nil)
	assert.Equal(t, ActionMonitor, followup.Action)
	assert.False(t, followup.AccountFrozen)
	assert.True(t, engine.Summary("user-6").Frozen)
}

func TestForceLogoutRemovesCurrentSession(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	first := makeIdentity("user-8", "d1", "1.1.1.1", "sx", t0)
	engine.AssessEvent(first, makeEvent(t0, "/x", "svc", "tr-8"), nil)

	// Fingerprint flip (25) plus escalation (35) lands exactly on the
	// medium threshold.
	second := makeIdentity("user-8", "d2", "2.2.2.2", "sx", t0.Add(time.Minute))
	assessment := engine.AssessEvent(second, makeEvent(t0.Add(time.Minute), "/x", "svc", "tr-8"), &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "admin"},
		Timestamp:          t0.Add(time.Minute),
	})

	assert.Equal(t, 60.0, assessment.TotalScore)
	assert.Equal(t, ActionForceLogout, assessment.Action)
	assert.True(t, assessment.SessionInvalidated)
	assert.False(t, assessment.AccountFrozen)
	assert.Empty(t, engine.Summary("user-8").ActiveSessions)
}

func TestForceLogoutWithSyntheticSessionIsNoOp(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	first := makeIdentity("user-9", "d1", "1.1.1.1", "", t0)
	engine.AssessEvent(first, makeEvent(t0, "/x", "svc", "tr-9"), nil)

	second := makeIdentity("user-9", "d2", "2.2.2.2", "", t0.Add(time.Minute))
	assessment := engine.AssessEvent(second, makeEvent(t0.Add(time.Minute), "/x", "svc", "tr-9"), &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "admin"},
		Timestamp:          t0.Add(time.Minute),
	})

	// The expiry targets the literal session id, which is absent here; the
	// synthetic session survives but the action is still reported.
	assert.Equal(t, ActionForceLogout, assessment.Action)
	assert.True(t, assessment.SessionInvalidated)
	assert.Equal(t, []string{"session-user-9"}, engine.Summary("user-9").ActiveSessions)
}

func TestDeterministicReplay(t *testing.T) {
	script := func(engine *Engine) []RiskAssessment {
		var out []RiskAssessment
		users := []struct {
			user, device, ip string
		}{
			{"alpha", "da", "10.0.0.1"},
			{"beta", "db", "10.0.0.2"},
		}
		endpoints := []string{"/a", "/b", "/a", "/admin/export", "/a", "/b"}
		for i, endpoint := range endpoints {
			for _, u := range users {
				ts := t0.Add(time.Duration(i) * time.Minute)
				identity := makeIdentity(u.user, u.device, u.ip, "s-"+u.user, ts)
				var change *PrivilegeChange
				if i == 3 {
					change = &PrivilegeChange{
						PreviousPrivileges: []string{"read"},
						NewPrivileges:      []string{"read", "export"},
						Timestamp:          ts,
					}
				}
				out = append(out, engine.AssessEvent(identity, makeEvent(ts, endpoint, "svc-"+endpoint, "tr-"+u.user), change))
			}
		}
		return out
	}

	run1 := script(NewEngine(DefaultEngineConfig()))
	run2 := script(NewEngine(DefaultEngineConfig()))
	require.Equal(t, run1, run2)

	for _, assessment := range run1 {
		sum := 0.0
		for _, signal := range assessment.Signals {
			sum += signal.Score
		}
		assert.Equal(t, sum, assessment.TotalScore)
	}
}

func TestPredictorSelfBootstrap(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "d1", "1.1.1.1", "s-1", t0)

	for i := 0; i < 4; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		identity.Timestamp = ts
		engine.AssessEvent(identity, makeEvent(ts, "/a", "svc", "tr-1"), nil)
	}
	assert.False(t, engine.predictor.IsTrained())

	ts := t0.Add(4 * time.Minute)
	identity.Timestamp = ts
	engine.AssessEvent(identity, makeEvent(ts, "/a", "svc", "tr-1"), nil)
	assert.True(t, engine.predictor.IsTrained())
}

func TestPredictorSelfBootstrapFloorsAtThree(t *testing.T) {
	config := DefaultEngineConfig()
	config.SequenceWindow = 4
	engine := NewEngine(config)
	identity := makeIdentity("user-1", "d1", "1.1.1.1", "s-1", t0)

	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		identity.Timestamp = ts
		engine.AssessEvent(identity, makeEvent(ts, "/a", "svc", "tr-1"), nil)
	}
	assert.True(t, engine.predictor.IsTrained())
}

func TestBootstrapModel(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())

	engine.BootstrapModel(nil)
	assert.False(t, engine.predictor.IsTrained())

	baseline := [][]ActivityEvent{
		{makeEvent(t0, "/a", "svc", "tr-1"), makeEvent(t0.Add(time.Second), "/b", "svc", "tr-1")},
		{makeEvent(t0, "/a", "svc", "tr-2"), makeEvent(t0.Add(time.Second), "/a", "svc", "tr-2")},
	}
	engine.BootstrapModel(baseline)
	assert.True(t, engine.predictor.IsTrained())
}

func TestFreezeAndResetOperations(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "d1", "1.1.1.1", "s-1", t0)
	engine.AssessEvent(identity, makeEvent(t0, "/a", "svc", "tr-1"), nil)

	engine.FreezeAccount("user-1")
	summary := engine.Summary("user-1")
	assert.True(t, summary.Frozen)
	assert.Equal(t, []string{"s-1"}, summary.ActiveSessions)

	engine.ResetSessions("user-1")
	summary = engine.Summary("user-1")
	assert.Empty(t, summary.ActiveSessions)
	assert.True(t, summary.Frozen, "reset clears sessions, never the freeze")

	// Both operations create missing accounts rather than failing.
	engine.FreezeAccount("ghost")
	assert.True(t, engine.Summary("ghost").Frozen)
	engine.ResetSessions("nobody")
	assert.False(t, engine.Summary("nobody").Frozen)
}

func TestSummaryUnknownUser(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	summary := engine.Summary("stranger")

	assert.False(t, summary.Frozen)
	assert.NotNil(t, summary.ActiveSessions)
	assert.Empty(t, summary.ActiveSessions)
	assert.Equal(t, map[string]float64{"request_rate": 0.0}, summary.Behavior)
	assert.Empty(t, summary.RecentSequence)
}

func TestSummaryReflectsTraffic(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "d1", "1.1.1.1", "s-2", t0)
	engine.AssessEvent(identity, makeEvent(t0, "/a", "svc", "tr-1"), nil)

	identity.SessionID = "s-1"
	identity.Timestamp = t0.Add(time.Minute)
	engine.AssessEvent(identity, makeEvent(t0.Add(time.Minute), "/b", "svc", "tr-1"), nil)

	summary := engine.Summary("user-1")
	assert.Equal(t, []string{"s-1", "s-2"}, summary.ActiveSessions, "session ids are sorted")
	assert.Equal(t, []string{"/a", "/b"}, summary.RecentSequence)
	assert.InDelta(t, 2.0/60.0, summary.Behavior["request_rate"], 1e-9)
}

func TestSessionUpsertTracksLastSeen(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	identity := makeIdentity("user-1", "d1", "1.1.1.1", "s-1", t0)
	engine.AssessEvent(identity, makeEvent(t0, "/a", "svc", "tr-1"), nil)

	later := t0.Add(10 * time.Minute)
	identity.Timestamp = later
	identity.DeviceID = "d1"
	engine.AssessEvent(identity, makeEvent(later, "/a", "svc", "tr-1"), nil)

	account := engine.accounts["user-1"]
	require.Contains(t, account.Sessions, "s-1")
	assert.Equal(t, later, account.Sessions["s-1"].LastSeen)
	assert.Equal(t, "d1", account.LastFingerprint)
}

func TestGetStats(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig())
	engine.AssessEvent(makeIdentity("a", "d1", "1.1.1.1", "s-a", t0), makeEvent(t0, "/a", "svc", "tr-a"), nil)
	engine.AssessEvent(makeIdentity("b", "d2", "2.2.2.2", "s-b", t0), makeEvent(t0, "/a", "svc", "tr-b"), nil)
	engine.FreezeAccount("a")

	stats := engine.GetStats()
	assert.Equal(t, 2, stats["accounts"])
	assert.Equal(t, 1, stats["frozen_accounts"])
	assert.Equal(t, 2, stats["active_sessions"])
	assert.Equal(t, false, stats["predictor_trained"])
	assert.Equal(t, 2, stats["tracked_sequences"])
}
