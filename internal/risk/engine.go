package risk

import (
	"log"
	"sort"
	"sync"
)

// ============================================================================
// RISK ENGINE - Orchestrates detectors and drives account lifecycle
// ============================================================================

// Engine owns the account table and all detector state. One write lock
// serializes assessments; detector evaluation order is fixed and the signal
// order in every assessment mirrors it. All state is process-local and
// rebuilt from traffic after a restart.
type Engine struct {
	mu sync.RWMutex

	config   EngineConfig
	accounts map[string]*AccountState

	fingerprinter *Fingerprinter
	behavior      *BehaviorAnalyzer
	sequenceModel *SequenceModel
	timing        *TimingProfiler
	privileges    *PrivilegeMonitor
	pivots        *PivotTracker
	graph         *GraphModel
	predictor     *AttackPredictor

	recentSequences map[string][]ActivityEvent

	logger *log.Logger
}

// NewEngine wires the detectors from one config snapshot.
func NewEngine(config EngineConfig) *Engine {
	return &Engine{
		config:        config,
		accounts:      make(map[string]*AccountState),
		fingerprinter: NewFingerprinter(config.MultiActorWindow),
		behavior:      NewBehaviorAnalyzer(config.BehaviorWindow),
		sequenceModel: NewSequenceModel(config.SequenceWindow),
		timing:        NewTimingProfiler(config.TimingSigmaThreshold),
		privileges:    NewPrivilegeMonitor(config.PrivilegeDriftThreshold),
		pivots:        NewPivotTracker(config.PivotDepthThreshold),
		graph:         NewGraphModel(),
		predictor: NewAttackPredictor(
			config.AttackPredictionContamination,
			config.AttackPredictionScoreMultiplier,
		),
		recentSequences: make(map[string][]ActivityEvent),
		logger:          log.New(log.Writer(), "[RiskEngine] ", log.LstdFlags),
	}
}

// Config returns the engine's bound configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// BootstrapModel seeds the attack predictor with known-benign sequences
// before serving traffic. An empty batch is ignored.
func (e *Engine) BootstrapModel(baselineSequences [][]ActivityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(baselineSequences) == 0 {
		return
	}
	e.predictor.Fit(baselineSequences)
	e.logger.Printf("Attack predictor bootstrapped with %d baseline sequences", len(baselineSequences))
}

func (e *Engine) getAccount(userID string) *AccountState {
	account, ok := e.accounts[userID]
	if !ok {
		account = NewAccountState(userID)
		e.accounts[userID] = account
	}
	return account
}

// AssessEvent scores one (identity, event, optional privilege change) tuple.
// It never fails on well-formed input; every call returns an assessment.
func (e *Engine) AssessEvent(identity IdentityContext, event ActivityEvent, privilegeChange *PrivilegeChange) RiskAssessment {
	e.mu.Lock()
	defer e.mu.Unlock()

	account := e.getAccount(identity.UserID)

	sessionID := identity.SessionID
	if sessionID == "" {
		sessionID = "session-" + identity.UserID
	}
	account.UpdateSession(SessionState{
		SessionID: sessionID,
		DeviceID:  identity.DeviceID,
		CreatedAt: identity.Timestamp,
		LastSeen:  identity.Timestamp,
		IP:        identity.IP,
	})

	var signals []RiskSignal

	if signal := e.fingerprinter.DetectMultiActor(identity); signal != nil {
		signals = append(signals, *signal)
	}
	if signal := e.behavior.Assess(identity.UserID, event); signal != nil {
		signals = append(signals, *signal)
	}
	if signal := e.sequenceModel.Score(identity.UserID, event); signal != nil {
		signals = append(signals, *signal)
	}
	if signal := e.timing.Assess(event); signal != nil {
		signals = append(signals, *signal)
	}
	signals = append(signals, e.privileges.Assess(account, privilegeChange)...)
	if signal := e.pivots.Assess(event); signal != nil {
		signals = append(signals, *signal)
	}
	if signal := e.graph.Assess(identity.UserID, identity.IP, identity.DeviceID); signal != nil {
		signals = append(signals, *signal)
	}

	// The queue absorbs this event (and possibly becomes a baseline sample)
	// before the predictor scores it.
	sequence := e.updateSequence(identity.UserID, event)
	if signal := e.predictor.Score(sequence); signal != nil {
		signals = append(signals, *signal)
	}

	totalScore := 0.0
	for _, signal := range signals {
		totalScore += signal.Score
	}
	action := e.config.EvaluateAction(totalScore)

	assessment := RiskAssessment{
		TotalScore: totalScore,
		Signals:    signals,
		Action:     action,
	}

	switch action {
	case ActionFreezeAccount:
		assessment.AccountFrozen = true
		account.Frozen = true
		e.logger.Printf("🧊 Account %s frozen (score %.2f)", identity.UserID, totalScore)
	case ActionForceLogout:
		account.ExpireSession(identity.SessionID)
		assessment.SessionInvalidated = true
		e.logger.Printf("Forced logout for %s (score %.2f)", identity.UserID, totalScore)
	}

	return assessment
}

// updateSequence appends the event to the user's recent-sequence queue,
// evicts past capacity, and feeds the queue as a baseline sample while the
// predictor is still untrained and the queue is long enough to be meaningful.
func (e *Engine) updateSequence(userID string, event ActivityEvent) []ActivityEvent {
	queue := append(e.recentSequences[userID], event)
	if len(queue) > e.config.SequenceWindow {
		queue = queue[1:]
	}
	e.recentSequences[userID] = queue

	minSamples := e.config.SequenceWindow / 2
	if minSamples < 3 {
		minSamples = 3
	}
	if !e.predictor.IsTrained() && len(queue) >= minSamples {
		e.predictor.UpdateBaseline(queue)
	}
	return queue
}

// FreezeAccount freezes an account out-of-band, creating it if needed.
func (e *Engine) FreezeAccount(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	account := e.getAccount(userID)
	account.Frozen = true
	e.logger.Printf("🧊 Account %s frozen by administrative action", userID)
}

// ResetSessions clears every live session on an account.
func (e *Engine) ResetSessions(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	account := e.getAccount(userID)
	account.Sessions = make(map[string]SessionState)
}

// Summary is the read-only view of one account. Unknown users get a zero
// summary; session ids are sorted so repeated reads are stable.
func (e *Engine) Summary(userID string) AccountSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	summary := AccountSummary{
		ActiveSessions: []string{},
		Behavior:       e.behavior.VolumeSummary(userID),
		RecentSequence: e.sequenceModel.RecentSequence(userID),
	}
	if account, ok := e.accounts[userID]; ok {
		summary.Frozen = account.Frozen
		for sessionID := range account.Sessions {
			summary.ActiveSessions = append(summary.ActiveSessions, sessionID)
		}
		sort.Strings(summary.ActiveSessions)
	}
	return summary
}

// GetStats reports engine-wide counters for health and diagnostics.
func (e *Engine) GetStats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	frozen := 0
	sessions := 0
	for _, account := range e.accounts {
		if account.Frozen {
			frozen++
		}
		sessions += len(account.Sessions)
	}
	return map[string]interface{}{
		"accounts":          len(e.accounts),
		"frozen_accounts":   frozen,
		"active_sessions":   sessions,
		"predictor_trained": e.predictor.IsTrained(),
		"tracked_sequences": len(e.recentSequences),
	}
}
