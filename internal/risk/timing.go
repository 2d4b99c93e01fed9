package risk

import "fmt"

// TimingProfiler keeps per-endpoint latency statistics and flags outliers
// once an endpoint has enough history. The epsilon keeps the sigma band
// non-degenerate when an endpoint's latency has been perfectly constant.
type TimingProfiler struct {
	sigmaThreshold float64
	stats          map[string]*TimingStats
}

func NewTimingProfiler(sigmaThreshold float64) *TimingProfiler {
	return &TimingProfiler{
		sigmaThreshold: sigmaThreshold,
		stats:          make(map[string]*TimingStats),
	}
}

// Assess tests the observation against the endpoint's established sigma band,
// then folds it into the stats. The first five observations per endpoint only
// warm the baseline, and an outlier is judged before it can drag the mean.
func (t *TimingProfiler) Assess(event ActivityEvent) *RiskSignal {
	stats, ok := t.stats[event.Endpoint]
	if !ok {
		stats = &TimingStats{}
		t.stats[event.Endpoint] = stats
	}

	var signal *RiskSignal
	if stats.Count >= 5 {
		deviation := event.LatencyMs - stats.Mean
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > t.sigmaThreshold*(stats.Stddev()+1e-6) {
			signal = &RiskSignal{
				Name:   SignalTimingAnomaly,
				Score:  15.0,
				Detail: fmt.Sprintf("Latency %.2fms diverges from mean %.2fms", event.LatencyMs, stats.Mean),
			}
		}
	}
	stats.Update(event.LatencyMs)
	return signal
}
