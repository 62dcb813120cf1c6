package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted bridge session.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the fixed initial session id. Later sessions are
	// Session-2, Session-3 and so on. Defaults to "test-session".
	Session string `yaml:"session,omitempty"`

	// Rules is an optional CUE coalescer rules file. Relative paths are
	// resolved against the scenario file's directory.
	Rules string `yaml:"rules,omitempty"`

	// Tools attaches the tools mirror. Implied by any tool-bound field.
	Tools bool `yaml:"tools,omitempty"`

	// Fields are the optimistic fields bound before the first step.
	Fields []FieldSpec `yaml:"fields,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// FieldSpec declares an optimistic field. A field is either payload-bound
// (Event and Key) or tool-bound (PathID and Prop).
type FieldSpec struct {
	Name string `yaml:"name"`

	// Payload-bound: payload[Key] of broadcast Event. Commits send Outgoing
	// with params {Key: value, eventId: id}.
	Event    string `yaml:"event,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Outgoing string `yaml:"outgoing,omitempty"`
	// Minter is the channel sub-minter commits draw from. Defaults to the
	// field name.
	Minter  string `yaml:"minter,omitempty"`
	Initial any    `yaml:"initial,omitempty"`

	// Tool-bound: props[Prop] of the tool element at PathID.
	PathID    string `yaml:"path_id,omitempty"`
	Prop      string `yaml:"prop,omitempty"`
	EventType string `yaml:"event_type,omitempty"`
}

func (f FieldSpec) toolBound() bool { return f.PathID != "" }

// Step is one scenario action. Exactly one member is set.
type Step struct {
	Dispatch      *DispatchStep      `yaml:"dispatch,omitempty"`
	Frame         string             `yaml:"frame,omitempty"`
	Commit        *CommitStep        `yaml:"commit,omitempty"`
	Reset         bool               `yaml:"reset,omitempty"`
	ExpectField   *ExpectFieldStep   `yaml:"expect_field,omitempty"`
	ExpectCache   *ExpectCacheStep   `yaml:"expect_cache,omitempty"`
	ExpectSent    *ExpectSentStep    `yaml:"expect_sent,omitempty"`
	ExpectJournal *ExpectJournalStep `yaml:"expect_journal,omitempty"`
}

// DispatchStep delivers a broadcast as if decoded from the wire.
type DispatchStep struct {
	Name    string `yaml:"name"`
	EventID int64  `yaml:"event_id,omitempty"`
	Params  any    `yaml:"params,omitempty"`
}

// CommitStep commits Value to a field.
type CommitStep struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
	// ExpectID, when set, is the mutation id the commit must mint.
	ExpectID int64 `yaml:"expect_id,omitempty"`
}

// ExpectFieldStep checks a field. Nil members are not checked.
type ExpectFieldStep struct {
	Field     string   `yaml:"field"`
	Value     *Literal `yaml:"value,omitempty"`
	TrackedID *int64   `yaml:"tracked_id,omitempty"`
	Pending   *int     `yaml:"pending,omitempty"`
}

// ExpectCacheStep checks the cached broadcast for Name.
type ExpectCacheStep struct {
	Name       string   `yaml:"name"`
	Absent     bool     `yaml:"absent,omitempty"`
	ReportedID *int64   `yaml:"reported_id,omitempty"`
	Payload    *Literal `yaml:"payload,omitempty"`
}

// ExpectSentStep flushes the channel and checks the events sent since the
// previous expect_sent.
type ExpectSentStep struct {
	Count  *int        `yaml:"count,omitempty"`
	Events []SentEvent `yaml:"events,omitempty"`
}

// SentEvent is an expected outgoing event. Events are matched in order.
type SentEvent struct {
	Name       string   `yaml:"name"`
	MutationID *int64   `yaml:"mutation_id,omitempty"`
	Params     *Literal `yaml:"params,omitempty"`
}

// ExpectJournalStep checks journal counts for the current session.
type ExpectJournalStep struct {
	Broadcasts *int `yaml:"broadcasts,omitempty"`
	Sends      *int `yaml:"sends,omitempty"`
}

// Literal is an expected value. A present key yields a non-nil *Literal;
// an explicit null is treated as absent.
type Literal struct {
	V any
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Literal) UnmarshalYAML(node *yaml.Node) error {
	return node.Decode(&l.V)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	fields := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if err := validateField(i, f); err != nil {
			return err
		}
		if fields[f.Name] {
			return fmt.Errorf("fields[%d]: duplicate name %q", i, f.Name)
		}
		fields[f.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, fields); err != nil {
			return err
		}
	}
	return nil
}

func validateField(i int, f FieldSpec) error {
	if f.Name == "" {
		return fmt.Errorf("fields[%d]: name is required", i)
	}
	payloadBound := f.Event != "" || f.Key != "" || f.Outgoing != ""
	switch {
	case f.toolBound() && payloadBound:
		return fmt.Errorf("fields[%d]: use either path_id/prop or event/key/outgoing", i)
	case f.toolBound():
		if f.Prop == "" {
			return fmt.Errorf("fields[%d]: prop is required with path_id", i)
		}
	default:
		if f.Event == "" || f.Key == "" || f.Outgoing == "" {
			return fmt.Errorf("fields[%d]: event, key and outgoing are required", i)
		}
	}
	return nil
}

func validateStep(i int, step Step, fields map[string]bool) error {
	set := 0
	for _, present := range []bool{
		step.Dispatch != nil,
		step.Frame != "",
		step.Commit != nil,
		step.Reset,
		step.ExpectField != nil,
		step.ExpectCache != nil,
		step.ExpectSent != nil,
		step.ExpectJournal != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}

	switch {
	case step.Dispatch != nil:
		if step.Dispatch.Name == "" {
			return fmt.Errorf("steps[%d].dispatch: name is required", i)
		}
	case step.Commit != nil:
		if !fields[step.Commit.Field] {
			return fmt.Errorf("steps[%d].commit: unknown field %q", i, step.Commit.Field)
		}
	case step.ExpectField != nil:
		if !fields[step.ExpectField.Field] {
			return fmt.Errorf("steps[%d].expect_field: unknown field %q", i, step.ExpectField.Field)
		}
	case step.ExpectCache != nil:
		if step.ExpectCache.Name == "" {
			return fmt.Errorf("steps[%d].expect_cache: name is required", i)
		}
	case step.ExpectSent != nil:
		for j, ev := range step.ExpectSent.Events {
			if ev.Name == "" {
				return fmt.Errorf("steps[%d].expect_sent.events[%d]: name is required", i, j)
			}
		}
	}
	return nil
}
