package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario. See the package documentation
// for the file format.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the oracle's initial state.
	Online bool `yaml:"online"`

	// ServerStatus is the status the fake backend answers writes with.
	// Defaults to 201.
	ServerStatus int `yaml:"server_status,omitempty"`

	// Seed pre-populates local collections before the flow runs.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Remote defines what the fake backend serves for collection fetches.
	// Absent collections serve an empty array.
	Remote map[string][]map[string]any `yaml:"remote,omitempty"`

	// Steps is the main flow, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and request trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one flow action. Exactly one field should be set.
type Step struct {
	Submit    *SubmitStep `yaml:"submit,omitempty"`
	SetOnline *bool       `yaml:"set_online,omitempty"`
	Replay    bool        `yaml:"replay,omitempty"`
	Fetch     *FetchStep  `yaml:"fetch,omitempty"`
}

// SubmitStep accepts a mutation through the outbox.
type SubmitStep struct {
	Kind       string         `yaml:"kind"`
	Collection string         `yaml:"collection"`
	Payload    map[string]any `yaml:"payload"`
}

// FetchStep reads a collection through the read coordinator.
type FetchStep struct {
	Collection string `yaml:"collection"`
}

// Assertion validates the final state or the backend request trace.
type Assertion struct {
	// Type is one of: pending_count, store_count, store_contains,
	// request_count, request_order, fetch_count.
	Type string `yaml:"type"`

	// Collection scopes store_count and store_contains.
	Collection string `yaml:"collection,omitempty"`

	// Where selects a record for store_contains, by id.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is the expected count for counting assertions, or the expected
	// field subset for store_contains.
	Expect any `yaml:"expect,omitempty"`

	// Order is the expected "METHOD /path" sequence for request_order.
	Order []string `yaml:"order,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo fails the scenario instead of silently passing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var s Scenario
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one step is required", path)
	}
	return &s, nil
}
