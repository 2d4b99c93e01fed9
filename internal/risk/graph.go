package risk

import "fmt"

// GraphModel tracks bipartite user↔IP and user↔device relationships. A fresh
// IP already serving several other accounts, or a user spreading across many
// devices, are both scored; the shared-IP check takes precedence.
type GraphModel struct {
	userToIPs     map[string]map[string]struct{}
	userToDevices map[string]map[string]struct{}
	ipToUsers     map[string]map[string]struct{}
}

func NewGraphModel() *GraphModel {
	return &GraphModel{
		userToIPs:     make(map[string]map[string]struct{}),
		userToDevices: make(map[string]map[string]struct{}),
		ipToUsers:     make(map[string]map[string]struct{}),
	}
}

// Assess records the (user, ip, device) edges, checking novelty before the
// insert so the current observation counts toward the set sizes.
func (g *GraphModel) Assess(userID, ip, deviceID string) *RiskSignal {
	userIPs := g.ensure(g.userToIPs, userID)
	userDevices := g.ensure(g.userToDevices, userID)
	ipUsers := g.ensure(g.ipToUsers, ip)

	_, seenIP := userIPs[ip]
	_, seenDevice := userDevices[deviceID]

	userIPs[ip] = struct{}{}
	userDevices[deviceID] = struct{}{}
	ipUsers[userID] = struct{}{}

	if !seenIP && len(ipUsers) > 3 {
		return &RiskSignal{
			Name:   SignalSharedIPRisk,
			Score:  22.0,
			Detail: fmt.Sprintf("IP %s shared across %d accounts", ip, len(ipUsers)),
		}
	}

	if !seenDevice && len(userDevices) > 4 {
		return &RiskSignal{
			Name:   SignalDeviceSprawl,
			Score:  16.0,
			Detail: fmt.Sprintf("User %s is now active on %d devices", userID, len(userDevices)),
		}
	}
	return nil
}

func (g *GraphModel) ensure(m map[string]map[string]struct{}, key string) map[string]struct{} {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	return set
}
