package risk

import "fmt"

// PivotTracker records which services each trace has touched. A trace that
// fans out across enough distinct services looks like lateral movement.
type PivotTracker struct {
	depthThreshold int
	traces         map[string][]string
}

func NewPivotTracker(depthThreshold int) *PivotTracker {
	return &PivotTracker{
		depthThreshold: depthThreshold,
		traces:         make(map[string][]string),
	}
}

// Assess appends this event's service to its trace and fires once the trace
// spans the threshold number of distinct services.
func (p *PivotTracker) Assess(event ActivityEvent) *RiskSignal {
	trace := append(p.traces[event.TraceID], event.Service)
	p.traces[event.TraceID] = trace

	seen := make(map[string]struct{}, len(trace))
	distinct := 0
	for _, service := range trace {
		if _, ok := seen[service]; !ok {
			seen[service] = struct{}{}
			distinct++
		}
	}
	if distinct >= p.depthThreshold {
		return &RiskSignal{
			Name:   SignalMicroservicePivot,
			Score:  18.0,
			Detail: fmt.Sprintf("Trace %s pivoted across %d services", event.TraceID, distinct),
		}
	}
	return nil
}
