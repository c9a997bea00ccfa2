package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/idem/internal/descriptor"
)

// DefaultStart is where the fake clock starts when a scenario sets none.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is one YAML scenario file.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock's initial time. Zero means DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Window is the default key bucket width. Zero means the deriver default.
	Window time.Duration `yaml:"window,omitempty"`

	// Retention is the engine's default retention. Zero means the engine default.
	Retention time.Duration `yaml:"retention,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step issues one or more identical Execute calls.
type Step struct {
	Name       string          `yaml:"name"`
	Descriptor descriptor.File `yaml:"descriptor"`
	Policy     PolicySpec      `yaml:"policy,omitempty"`
	Outcome    Outcome         `yaml:"outcome,omitempty"`

	// Concurrent is the number of simultaneous calls. 0 and 1 mean one call.
	Concurrent int `yaml:"concurrent,omitempty"`

	// Advance moves the fake clock before the step runs.
	Advance time.Duration `yaml:"advance,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// PolicySpec mirrors engine.Policy.
type PolicySpec struct {
	SkipIfPending bool          `yaml:"skip_if_pending,omitempty"`
	RetryOnError  bool          `yaml:"retry_on_error,omitempty"`
	Retention     time.Duration `yaml:"retention,omitempty"`
}

// Outcome scripts what the operation does when invoked.
type Outcome struct {
	Result any    `yaml:"result,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Panic  string `yaml:"panic,omitempty"`
}

// Expect lists the checks applied after a step.
type Expect struct {
	Source      string         `yaml:"source,omitempty"`
	Error       string         `yaml:"error,omitempty"`
	Result      any            `yaml:"result,omitempty"`
	Outcomes    map[string]int `yaml:"outcomes,omitempty"`
	Invocations *int           `yaml:"invocations,omitempty"`
	Status      string         `yaml:"status,omitempty"`
}

// Call labels.
const (
	LabelExecuted          = "executed"
	LabelReplayed          = "replayed"
	LabelCoalesced         = "coalesced"
	LabelInvalidDescriptor = "INVALID_DESCRIPTOR"
	LabelAlreadyInProgress = "ALREADY_IN_PROGRESS"
	LabelPreviousFailure   = "PREVIOUS_FAILURE"
	LabelOperationError    = "OPERATION_ERROR"
	LabelPanic             = "PANIC"
)

var (
	sourceLabels = []string{LabelExecuted, LabelReplayed, LabelCoalesced}
	errorLabels  = []string{LabelInvalidDescriptor, LabelAlreadyInProgress, LabelPreviousFailure, LabelOperationError, LabelPanic}
	statuses     = []string{"pending", "success", "error", StatusAbsent}
)

// ErrNoScenarios is returned by FindScenarios for a directory without scenario files.
var ErrNoScenarios = errors.New("no scenario files found")

// StatusAbsent is reported when no live record exists after a step.
const StatusAbsent = "absent"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "expects:" vs "expect:".
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

// FindScenarios returns the scenario files at path: the file itself, or
// every .yaml/.yml file directly inside a directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoScenarios, path)
	}
	return files, nil
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
	if s.Window < 0 || s.Retention < 0 {
		return fmt.Errorf("window and retention must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	if step.Name == "" {
		return fmt.Errorf("steps[%d]: name is required", i)
	}
	set := 0
	if step.Outcome.Result != nil {
		set++
	}
	if step.Outcome.Error != "" {
		set++
	}
	if step.Outcome.Panic != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("steps[%d]: outcome must set at most one of result, error, panic", i)
	}
	if step.Concurrent < 0 {
		return fmt.Errorf("steps[%d]: concurrent must be non-negative", i)
	}
	if step.Advance < 0 {
		return fmt.Errorf("steps[%d]: advance must not be negative", i)
	}

	e := step.Expect
	if e == nil {
		return nil
	}
	if e.Source != "" && !contains(sourceLabels, e.Source) {
		return fmt.Errorf("steps[%d].expect: unknown source %q", i, e.Source)
	}
	if e.Error != "" && !contains(errorLabels, e.Error) {
		return fmt.Errorf("steps[%d].expect: unknown error %q", i, e.Error)
	}
	if e.Source != "" && e.Error != "" {
		return fmt.Errorf("steps[%d].expect: source and error are mutually exclusive", i)
	}
	if step.Concurrent > 1 && (e.Source != "" || e.Error != "" || e.Result != nil) {
		return fmt.Errorf("steps[%d].expect: use outcomes for concurrent steps", i)
	}
	for label := range e.Outcomes {
		if !contains(sourceLabels, label) && !contains(errorLabels, label) {
			return fmt.Errorf("steps[%d].expect: unknown outcome label %q", i, label)
		}
	}
	if e.Status != "" && !contains(statuses, e.Status) {
		return fmt.Errorf("steps[%d].expect: unknown status %q", i, e.Status)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
