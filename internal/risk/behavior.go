package risk

import (
	"fmt"
	"time"
)

// ============================================================================
// BEHAVIOR ANALYZER - Request-rate surges and endpoint-skew spikes
// ============================================================================

// behaviorProfile is one user's sliding window of events, bounded by
// wall-clock duration, plus an endpoint multiset over the same window.
type behaviorProfile struct {
	window time.Duration
	events []ActivityEvent
	counts map[string]int
}

func newBehaviorProfile(window time.Duration) *behaviorProfile {
	return &behaviorProfile{
		window: window,
		counts: make(map[string]int),
	}
}

func (p *behaviorProfile) observe(event ActivityEvent) {
	p.events = append(p.events, event)
	p.counts[event.Endpoint]++
	p.trim(event.Timestamp)
}

func (p *behaviorProfile) trim(now time.Time) {
	for len(p.events) > 0 && now.Sub(p.events[0].Timestamp) > p.window {
		old := p.events[0]
		p.events = p.events[1:]
		p.counts[old.Endpoint]--
		if p.counts[old.Endpoint] <= 0 {
			delete(p.counts, old.Endpoint)
		}
	}
}

// requestRate is events per second over the observed span, where the span is
// the gap between the oldest and newest event, floored at one second.
func (p *behaviorProfile) requestRate() float64 {
	if len(p.events) == 0 {
		return 0
	}
	span := p.events[len(p.events)-1].Timestamp.Sub(p.events[0].Timestamp).Seconds()
	if span < 1.0 {
		span = 1.0
	}
	return float64(len(p.events)) / span
}

// endpointSkew is the fraction of windowed traffic hitting one endpoint.
func (p *behaviorProfile) endpointSkew(endpoint string) float64 {
	total := 0
	for _, count := range p.counts {
		total += count
	}
	if total == 0 {
		total = 1
	}
	return float64(p.counts[endpoint]) / float64(total)
}

// BehaviorAnalyzer compares a user's request rate and endpoint mix before and
// after each event. The engine serializes calls, so no internal locking.
type BehaviorAnalyzer struct {
	window   time.Duration
	profiles map[string]*behaviorProfile
}

func NewBehaviorAnalyzer(window time.Duration) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{
		window:   window,
		profiles: make(map[string]*behaviorProfile),
	}
}

// Assess observes one event and reports a rate surge or an endpoint spike.
// The rate branch wins; at most one signal per call. An empty profile has no
// baseline to compare against, so the first windowed event only seeds it.
func (b *BehaviorAnalyzer) Assess(userID string, event ActivityEvent) *RiskSignal {
	profile, ok := b.profiles[userID]
	if !ok {
		profile = newBehaviorProfile(b.window)
		b.profiles[userID] = profile
	}
	if len(profile.events) == 0 {
		profile.observe(event)
		return nil
	}

	rateBefore := profile.requestRate()
	skewBefore := profile.endpointSkew(event.Endpoint)

	profile.observe(event)

	rateAfter := profile.requestRate()
	skewAfter := profile.endpointSkew(event.Endpoint)

	surge := (rateAfter - rateBefore) / (rateBefore + 0.01)
	spike := skewAfter - skewBefore

	if surge > 2.0 {
		score := 20.0 * surge
		if score > 40.0 {
			score = 40.0
		}
		return &RiskSignal{
			Name:   SignalBehaviorRateAnomaly,
			Score:  score,
			Detail: fmt.Sprintf("Request rate surged by %.2fx for user %s", surge, userID),
		}
	}

	if spike > 0.3 && skewAfter > 0.5 {
		return &RiskSignal{
			Name:   SignalBehaviorEndpointAnomaly,
			Score:  25.0,
			Detail: fmt.Sprintf("Endpoint %s suddenly dominates traffic for user %s", event.Endpoint, userID),
		}
	}

	return nil
}

// VolumeSummary reports the user's current request rate for summaries.
func (b *BehaviorAnalyzer) VolumeSummary(userID string) map[string]float64 {
	profile, ok := b.profiles[userID]
	if !ok {
		return map[string]float64{"request_rate": 0.0}
	}
	return map[string]float64{"request_rate": profile.requestRate()}
}
