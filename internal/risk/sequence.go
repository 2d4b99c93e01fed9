package risk

import "fmt"

// SequenceModel is a first-order transition model over endpoint paths. The
// transition table is global; the recent path is per user and capped at the
// configured window.
type SequenceModel struct {
	window      int
	transitions map[string]map[string]int
	recentPaths map[string][]string
}

func NewSequenceModel(window int) *SequenceModel {
	return &SequenceModel{
		window:      window,
		transitions: make(map[string]map[string]int),
		recentPaths: make(map[string][]string),
	}
}

// observe records the transition from the path tail to this endpoint and
// appends it, evicting from the front past capacity. The first event for a
// user records no transition.
func (m *SequenceModel) observe(userID string, event ActivityEvent) {
	path := m.recentPaths[userID]
	if len(path) > 0 {
		prev := path[len(path)-1]
		next, ok := m.transitions[prev]
		if !ok {
			next = make(map[string]int)
			m.transitions[prev] = next
		}
		next[event.Endpoint]++
	}
	path = append(path, event.Endpoint)
	if len(path) > m.window {
		path = path[1:]
	}
	m.recentPaths[userID] = path
}

// Score reads the transition probability before observing the event, so the
// event never vouches for itself. Rare transitions out of an established
// state flag an anomaly.
func (m *SequenceModel) Score(userID string, event ActivityEvent) *RiskSignal {
	path := m.recentPaths[userID]
	if len(path) == 0 {
		m.observe(userID, event)
		return nil
	}
	prev := path[len(path)-1]
	total := 0
	for _, count := range m.transitions[prev] {
		total += count
	}
	if total == 0 {
		total = 1
	}
	probability := float64(m.transitions[prev][event.Endpoint]) / float64(total)
	m.observe(userID, event)
	if probability < 0.05 && total >= 2 {
		return &RiskSignal{
			Name:   SignalAPISequenceAnomaly,
			Score:  30.0,
			Detail: fmt.Sprintf("Unexpected transition from %s to %s", prev, event.Endpoint),
		}
	}
	return nil
}

// RecentSequence returns a copy of the user's current endpoint path.
func (m *SequenceModel) RecentSequence(userID string) []string {
	path := m.recentPaths[userID]
	out := make([]string, len(path))
	copy(out, path)
	return out
}
