package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios drive the runtime through a script of play requests, ticks and
// global state changes, then assert on the resulting notice trace, the
// recorded play log and the final registry.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Assets lists CUE files holding event definitions.
	// Paths are relative to the scenario file location.
	Assets []string `yaml:"assets,omitempty"`

	// Events is inline CUE source holding event definitions, compiled
	// after Assets.
	Events string `yaml:"events,omitempty"`

	// Seed seeds the runtime's random generator.
	Seed uint64 `yaml:"seed,omitempty"`

	// Voices is the voice pool capacity. Defaults to engine.DefaultCapacity.
	Voices int `yaml:"voices,omitempty"`

	// Language is the initial language tag. Defaults to "en".
	Language string `yaml:"language,omitempty"`

	// DT is the tick length in seconds. Defaults to DefaultDT.
	DT float64 `yaml:"dt,omitempty"`

	// Steps is the script, run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, playing, mixer
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultDT is the tick length used when a scenario does not set dt.
// A power of two keeps accumulated clock readings exact.
const DefaultDT = 0.125

// Step is one scripted action. Exactly one action field is set.
type Step struct {
	// Play starts the named event.
	Play string `yaml:"play,omitempty"`
	// As names the played instance for later stop, mute and solo steps.
	As       string             `yaml:"as,omitempty"`
	Position []float64          `yaml:"position,omitempty"`
	FadeIn   *float64           `yaml:"fade_in,omitempty"`
	FadeOut  *float64           `yaml:"fade_out,omitempty"`
	Delay    *float64           `yaml:"delay,omitempty"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	// Expect is the play outcome: played, rejected or failed.
	Expect string `yaml:"expect,omitempty"`
	// Code is the expected error code of a rejected or failed play.
	Code string `yaml:"code,omitempty"`

	// Tick advances the runtime by this many ticks.
	Tick int `yaml:"tick,omitempty"`

	// Stop stops a named instance, fading out unless Immediate.
	Stop      string `yaml:"stop,omitempty"`
	Immediate bool   `yaml:"immediate,omitempty"`

	StopAll   string `yaml:"stop_all,omitempty"`
	StopGroup int    `yaml:"stop_group,omitempty"`

	SetLanguage  string             `yaml:"set_language,omitempty"`
	SetSwitch    map[string]int     `yaml:"set_switch,omitempty"`
	SetParameter map[string]float64 `yaml:"set_parameter,omitempty"`

	Mute string `yaml:"mute,omitempty"`
	Solo string `yaml:"solo,omitempty"`
}

// action returns the name of the step's action, or "" when none or more
// than one is set.
func (s *Step) action() string {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(s.Play != "", "play")
	add(s.Tick != 0, "tick")
	add(s.Stop != "", "stop")
	add(s.StopAll != "", "stop_all")
	add(s.StopGroup != 0, "stop_group")
	add(s.SetLanguage != "", "set_language")
	add(s.SetSwitch != nil, "set_switch")
	add(s.SetParameter != nil, "set_parameter")
	add(s.Mute != "", "mute")
	add(s.Solo != "", "solo")
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a notice matching kind/graph/to/code/clips exists
	// - "trace_order": notice keys appear in order
	// - "trace_count": notices matching kind/graph/to/code occur exactly Count times
	// - "final_state": query the plays or transitions table
	// - "playing": Count instances (of Graph, if set) are playing at the end
	// - "mixer": the snapshot transitions equal Snapshots
	Type string `yaml:"type"`

	// Notice filters (trace_contains, trace_count, playing).
	Kind  string   `yaml:"kind,omitempty"`
	Graph string   `yaml:"graph,omitempty"`
	To    string   `yaml:"to,omitempty"`
	Code  string   `yaml:"code,omitempty"`
	Clips []string `yaml:"clips,omitempty"`

	// Count is the expected number of matches (trace_count, playing).
	Count int `yaml:"count,omitempty"`

	// Order lists notice keys, see TraceEvent.Key (trace_order).
	Order []string `yaml:"order,omitempty"`

	// Table is plays or transitions (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Snapshots is the expected "name@seconds" list (mixer).
	Snapshots []string `yaml:"snapshots,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertPlaying       = "playing"
	AssertMixer         = "mixer"
)

// Play outcomes accepted by Step.Expect.
const (
	OutcomePlayed   = "played"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// LoadScenario reads and parses a scenario YAML file.
// Asset paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving asset paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, assetPath := range scenario.Assets {
		if !filepath.IsAbs(assetPath) && basePath != "" {
			scenario.Assets[i] = filepath.Join(basePath, assetPath)
		}
	}

	for _, assetPath := range scenario.Assets {
		if _, err := os.Stat(assetPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: asset file not found: %s", assetPath)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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

	if len(s.Assets) == 0 && s.Events == "" {
		return fmt.Errorf("assets or events is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Voices < 0 {
		return fmt.Errorf("voices must be non-negative")
	}
	if s.DT < 0 {
		return fmt.Errorf("dt must be non-negative")
	}

	aliases := map[string]bool{}
	for i, step := range s.Steps {
		action := step.action()
		if action == "" {
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		}
		if step.Tick < 0 {
			return fmt.Errorf("steps[%d]: tick must be positive", i)
		}
		if action != "play" && (step.As != "" || step.Expect != "" || step.Code != "") {
			return fmt.Errorf("steps[%d]: as, expect and code only apply to play", i)
		}
		switch step.Expect {
		case "", OutcomePlayed, OutcomeRejected, OutcomeFailed:
		default:
			return fmt.Errorf("steps[%d]: unknown expect %q, must be played, rejected, or failed", i, step.Expect)
		}
		if step.Position != nil && len(step.Position) != 3 {
			return fmt.Errorf("steps[%d]: position must be [x, y, z]", i)
		}
		if step.As != "" {
			if aliases[step.As] {
				return fmt.Errorf("steps[%d]: duplicate alias %q", i, step.As)
			}
			aliases[step.As] = true
		}
		for _, ref := range []string{step.Stop, step.Mute, step.Solo} {
			if ref != "" && !aliases[ref] {
				return fmt.Errorf("steps[%d]: unknown alias %q", i, ref)
			}
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" && a.Graph == "" {
			return fmt.Errorf("assertions[%d]: kind or graph is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: order list is required for trace_order", index)
		}
	case AssertTraceCount, AssertPlaying:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.Table != "plays" && a.Table != "transitions" {
			return fmt.Errorf("assertions[%d]: table must be plays or transitions for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertMixer:
		if a.Snapshots == nil {
			return fmt.Errorf("assertions[%d]: snapshots list is required for mixer", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
