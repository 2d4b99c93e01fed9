package risk

import "time"

// EngineConfig carries every threshold and window the engine binds at
// construction. There is no hot reload; build a new engine to change these.
type EngineConfig struct {
	HighRiskThreshold               float64       `json:"high_risk_threshold"`
	MediumRiskThreshold             float64       `json:"medium_risk_threshold"`
	SequenceWindow                  int           `json:"sequence_window"`
	BehaviorWindow                  time.Duration `json:"behavior_window"`
	TimingSigmaThreshold            float64       `json:"timing_sigma_threshold"`
	PrivilegeDriftThreshold         int           `json:"privilege_drift_threshold"`
	MultiActorWindow                time.Duration `json:"multi_actor_window"`
	PivotDepthThreshold             int           `json:"pivot_depth_threshold"`
	AttackPredictionContamination   float64       `json:"attack_prediction_contamination"`
	AttackPredictionScoreMultiplier float64       `json:"attack_prediction_score_multiplier"`
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HighRiskThreshold:               85.0,
		MediumRiskThreshold:             60.0,
		SequenceWindow:                  10,
		BehaviorWindow:                  24 * time.Hour,
		TimingSigmaThreshold:            3.0,
		PrivilegeDriftThreshold:         3,
		MultiActorWindow:                6 * time.Hour,
		PivotDepthThreshold:             4,
		AttackPredictionContamination:   0.08,
		AttackPredictionScoreMultiplier: 100.0,
	}
}

// EvaluateAction maps a total risk score to an enforcement action. The
// thresholds are ordered, so at most one branch fires.
func (c EngineConfig) EvaluateAction(riskScore float64) string {
	if riskScore >= c.HighRiskThreshold {
		return ActionFreezeAccount
	}
	if riskScore >= c.MediumRiskThreshold {
		return ActionForceLogout
	}
	return ActionMonitor
}
