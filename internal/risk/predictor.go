package risk

import "strings"

// AttackPredictor is a lightweight statistical detector over engineered
// sequence features. It z-scores each dimension against a running baseline
// and spends whatever exceeds the threshold as an anomaly budget. No model
// files, no training pipeline: the baseline is whatever traffic it has seen.
type AttackPredictor struct {
	scoreMultiplier float64
	threshold       float64
	stats           FeatureStats
	trained         bool
}

// NewAttackPredictor builds an untrained predictor. The threshold floor of
// 0.05 keeps a tiny contamination setting from flagging everything.
func NewAttackPredictor(contamination, scoreMultiplier float64) *AttackPredictor {
	if contamination < 0.05 {
		contamination = 0.05
	}
	return &AttackPredictor{
		scoreMultiplier: scoreMultiplier,
		threshold:       contamination * 6,
	}
}

// Fit folds a batch of baseline sequences into the running statistics.
func (p *AttackPredictor) Fit(sequences [][]ActivityEvent) {
	for _, sequence := range sequences {
		p.stats.Update(p.featurize(sequence))
	}
	p.trained = p.stats.Count > 0
}

// UpdateBaseline folds a single observed sequence into the baseline. The
// engine calls this while the predictor is still bootstrapping.
func (p *AttackPredictor) UpdateBaseline(sequence []ActivityEvent) {
	p.stats.Update(p.featurize(sequence))
	p.trained = p.stats.Count > 0
}

// IsTrained reports whether any baseline sample has been absorbed.
func (p *AttackPredictor) IsTrained() bool {
	return p.trained
}

// Score z-scores the sequence's features against the baseline. Anything an
// untrained predictor would say is noise, so it says nothing.
func (p *AttackPredictor) Score(sequence []ActivityEvent) *RiskSignal {
	if !p.trained {
		return nil
	}
	vector := p.featurize(sequence)
	stds := p.stats.Stddev()
	budget := 0.0
	for i, value := range vector {
		z := value - p.stats.Mean[i]
		if z < 0 {
			z = -z
		}
		z /= stds[i]
		if z > p.threshold {
			budget += z - p.threshold
		}
	}
	if budget <= 0 {
		return nil
	}
	score := budget * p.scoreMultiplier
	if score > 30.0 {
		score = 30.0
	}
	return &RiskSignal{
		Name:   SignalMLAttackPrediction,
		Score:  score,
		Detail: "Statistical model flags attack-like sequence",
	}
}

// featurize projects a sequence onto the six engineered dimensions:
// length, admin-like hits, error statuses, distinct services, mean latency,
// and the largest single response.
func (p *AttackPredictor) featurize(sequence []ActivityEvent) []float64 {
	adminHits := 0
	statusErrors := 0
	services := make(map[string]struct{})
	totalLatency := 0.0
	maxBurst := int64(0)
	for _, event := range sequence {
		if strings.Contains(event.Endpoint, "/admin") || strings.Contains(event.Endpoint, "export") {
			adminHits++
		}
		if event.StatusCode >= 400 {
			statusErrors++
		}
		services[event.Service] = struct{}{}
		totalLatency += event.LatencyMs
		if event.BytesOut > maxBurst {
			maxBurst = event.BytesOut
		}
	}
	denom := len(sequence)
	if denom == 0 {
		denom = 1
	}
	return []float64{
		float64(len(sequence)),
		float64(adminHits),
		float64(statusErrors),
		float64(len(services)),
		totalLatency / float64(denom),
		float64(maxBurst),
	}
}
