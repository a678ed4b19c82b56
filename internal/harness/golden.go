package harness

import (
	"encoding/json"
	"fmt"
)

// TraceSnapshot captures the backend request trace of a scenario run for
// golden file comparison.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Requests     []RequestEvent `json:"requests"`
}

// Snapshot builds the golden-file representation of a run.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: scenario.Name,
		Requests:     result.Requests,
	}
	if snap.Requests == nil {
		snap.Requests = []RequestEvent{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal trace snapshot: %w", err)
	}
	return data, nil
}
