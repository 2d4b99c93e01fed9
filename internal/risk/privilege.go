package risk

import (
	"fmt"
	"sort"
)

// PrivilegeMonitor watches an account's privilege history for direct
// escalations and for gradual upward drift across the trailing window.
type PrivilegeMonitor struct {
	driftThreshold int
}

func NewPrivilegeMonitor(driftThreshold int) *PrivilegeMonitor {
	return &PrivilegeMonitor{driftThreshold: driftThreshold}
}

// Assess appends the supplied change (if any) to the account history and
// returns up to two signals: an escalation for privileges newly granted in
// this change, and a drift when the trailing window's union of new
// privileges exceeds the union of previous ones. Drift is evaluated on every
// call once the history is long enough, with or without a new change.
func (p *PrivilegeMonitor) Assess(account *AccountState, change *PrivilegeChange) []RiskSignal {
	var signals []RiskSignal

	if change != nil {
		escalated := setDifference(change.NewPrivileges, change.PreviousPrivileges)
		if len(escalated) > 0 {
			signals = append(signals, RiskSignal{
				Name:   SignalPrivilegeEscalation,
				Score:  35.0,
				Detail: fmt.Sprintf("Privileges added: %v", sortedKeys(escalated)),
			})
		}
		account.PrivilegeHistory = append(account.PrivilegeHistory, *change)
	}

	if len(account.PrivilegeHistory) >= p.driftThreshold {
		recent := account.PrivilegeHistory[len(account.PrivilegeHistory)-p.driftThreshold:]
		unionPrev := make(map[string]struct{})
		unionNew := make(map[string]struct{})
		for _, item := range recent {
			for _, priv := range item.PreviousPrivileges {
				unionPrev[priv] = struct{}{}
			}
			for _, priv := range item.NewPrivileges {
				unionNew[priv] = struct{}{}
			}
		}
		drifted := make(map[string]struct{})
		for priv := range unionNew {
			if _, ok := unionPrev[priv]; !ok {
				drifted[priv] = struct{}{}
			}
		}
		if len(drifted) > 0 {
			signals = append(signals, RiskSignal{
				Name:   SignalPrivilegeDrift,
				Score:  20.0,
				Detail: fmt.Sprintf("Privileges drifted upward: %v", sortedKeys(drifted)),
			})
		}
	}

	return signals
}

// setDifference returns the members of a not present in b.
func setDifference(a, b []string) map[string]struct{} {
	exclude := make(map[string]struct{}, len(b))
	for _, item := range b {
		exclude[item] = struct{}{}
	}
	diff := make(map[string]struct{})
	for _, item := range a {
		if _, ok := exclude[item]; !ok {
			diff[item] = struct{}{}
		}
	}
	return diff
}

// sortedKeys renders a set deterministically for detail strings.
func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
