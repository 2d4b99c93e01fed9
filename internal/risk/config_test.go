package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultEngineConfig(t *testing.T) {
	config := DefaultEngineConfig()

	assert.Equal(t, 85.0, config.HighRiskThreshold)
	assert.Equal(t, 60.0, config.MediumRiskThreshold)
	assert.Equal(t, 10, config.SequenceWindow)
	assert.Equal(t, 24*time.Hour, config.BehaviorWindow)
	assert.Equal(t, 3.0, config.TimingSigmaThreshold)
	assert.Equal(t, 3, config.PrivilegeDriftThreshold)
	assert.Equal(t, 6*time.Hour, config.MultiActorWindow)
	assert.Equal(t, 4, config.PivotDepthThreshold)
	assert.Equal(t, 0.08, config.AttackPredictionContamination)
	assert.Equal(t, 100.0, config.AttackPredictionScoreMultiplier)
}

func TestEvaluateActionBoundaries(t *testing.T) {
	config := DefaultEngineConfig()

	cases := []struct {
		score  float64
		action string
	}{
		{0, ActionMonitor},
		{59.999, ActionMonitor},
		{60, ActionForceLogout},
		{84.999, ActionForceLogout},
		{85, ActionFreezeAccount},
		{500, ActionFreezeAccount},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.action, config.EvaluateAction(tc.score), "score %.3f", tc.score)
	}
}

func TestEvaluateActionCustomThresholds(t *testing.T) {
	config := DefaultEngineConfig()
	config.HighRiskThreshold = 50
	config.MediumRiskThreshold = 25

	assert.Equal(t, ActionMonitor, config.EvaluateAction(24))
	assert.Equal(t, ActionForceLogout, config.EvaluateAction(25))
	assert.Equal(t, ActionFreezeAccount, config.EvaluateAction(50))
}
