package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivilegeEscalationSortsDetail(t *testing.T) {
	monitor := NewPrivilegeMonitor(3)
	account := NewAccountState("u")

	signals := monitor.Assess(account, &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "write", "admin"},
		Timestamp:          t0,
	})

	require.Len(t, signals, 1)
	assert.Equal(t, SignalPrivilegeEscalation, signals[0].Name)
	assert.Equal(t, 35.0, signals[0].Score)
	assert.Equal(t, "Privileges added: [admin write]", signals[0].Detail)
	assert.Len(t, account.PrivilegeHistory, 1)
}

func TestPrivilegeRevocationIsSilent(t *testing.T) {
	monitor := NewPrivilegeMonitor(3)
	account := NewAccountState("u")

	signals := monitor.Assess(account, &PrivilegeChange{
		PreviousPrivileges: []string{"read", "write"},
		NewPrivileges:      []string{"read"},
		Timestamp:          t0,
	})

	assert.Empty(t, signals)
	assert.Len(t, account.PrivilegeHistory, 1, "revocations still enter the history")
}

func TestPrivilegeDriftNeedsFullWindow(t *testing.T) {
	monitor := NewPrivilegeMonitor(3)
	account := NewAccountState("u")

	for i, privs := range [][]string{{"read", "write"}, {"read", "write", "delete"}} {
		prev := []string{"read"}
		if i == 1 {
			prev = []string{"read", "write"}
		}
		signals := monitor.Assess(account, &PrivilegeChange{
			PreviousPrivileges: prev,
			NewPrivileges:      privs,
			Timestamp:          t0.Add(time.Duration(i) * time.Minute),
		})
		require.Len(t, signals, 1, "escalation only while history is short")
		assert.Equal(t, SignalPrivilegeEscalation, signals[0].Name)
	}
}

func TestPrivilegeDriftFiresWithoutNewChange(t *testing.T) {
	monitor := NewPrivilegeMonitor(3)
	account := NewAccountState("u")

	steps := []PrivilegeChange{
		{PreviousPrivileges: []string{"read"}, NewPrivileges: []string{"read", "write"}},
		{PreviousPrivileges: []string{"read", "write"}, NewPrivileges: []string{"read", "write", "delete"}},
		{PreviousPrivileges: []string{"read", "write", "delete"}, NewPrivileges: []string{"read", "write", "delete", "export"}},
	}
	for i := range steps {
		monitor.Assess(account, &steps[i])
	}

	// History is untouched on a change-free call, yet the trailing window
	// still shows upward drift.
	signals := monitor.Assess(account, nil)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalPrivilegeDrift, signals[0].Name)
	assert.Equal(t, 20.0, signals[0].Score)
	assert.Equal(t, "Privileges drifted upward: [export]", signals[0].Detail)
	assert.Len(t, account.PrivilegeHistory, 3)
}

func TestPrivilegeEscalationAndDriftTogether(t *testing.T) {
	monitor := NewPrivilegeMonitor(2)
	account := NewAccountState("u")

	monitor.Assess(account, &PrivilegeChange{
		PreviousPrivileges: []string{"read"},
		NewPrivileges:      []string{"read", "write"},
		Timestamp:          t0,
	})
	signals := monitor.Assess(account, &PrivilegeChange{
		PreviousPrivileges: []string{"read", "write"},
		NewPrivileges:      []string{"read", "write", "export"},
		Timestamp:          t0.Add(time.Minute),
	})

	require.Len(t, signals, 2)
	assert.Equal(t, SignalPrivilegeEscalation, signals[0].Name)
	assert.Equal(t, SignalPrivilegeDrift, signals[1].Name)
	assert.Equal(t, "Privileges drifted upward: [export]", signals[1].Detail)
}

func TestPrivilegeNoHistoryNoSignals(t *testing.T) {
	monitor := NewPrivilegeMonitor(3)
	account := NewAccountState("u")

	assert.Empty(t, monitor.Assess(account, nil))
}
