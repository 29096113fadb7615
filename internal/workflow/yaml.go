package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlStep mirrors Step but references actions/compensators/decisions by
// name, since functions can't be expressed declaratively. A Registry
// resolves the names at load time.
type yamlStep struct {
	StepID       string     `yaml:"step_id"`
	Name         string     `yaml:"name"`
	Type         string     `yaml:"type"`
	Timeout      string     `yaml:"timeout"`
	RetryCount   int        `yaml:"retry_count"`
	RetryDelay   string     `yaml:"retry_delay"`
	ActionRef    string     `yaml:"action_ref"`
	DecisionRef  string     `yaml:"decision_ref"`
	CompensateRef string    `yaml:"compensate_ref"`
	WaitFor      string     `yaml:"wait_for"`
	ParallelMode string     `yaml:"parallel_mode"`
	Children     []yamlStep `yaml:"children"`
}

type yamlDefinition struct {
	Name    string     `yaml:"name"`
	Version string     `yaml:"version"`
	Timeout string     `yaml:"timeout"`
	Steps   []yamlStep `yaml:"steps"`
}

// Registry resolves the named functions a declarative definition references.
type Registry struct {
	Actions      map[string]ActionFunc
	Decisions    map[string]DecisionFunc
	Compensators map[string]CompensatorFunc
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (reg Registry) resolveStep(y yamlStep) (Step, error) {
	s := Step{
		StepID:     y.StepID,
		Name:       y.Name,
		Type:       StepType(y.Type),
		Timeout:    parseDuration(y.Timeout, 0),
		RetryCount: y.RetryCount,
		RetryDelay: parseDuration(y.RetryDelay, 0),
		WaitFor:    parseDuration(y.WaitFor, 0),
		ParallelMode: ParallelMode(y.ParallelMode),
	}

	if y.ActionRef != "" {
		fn, ok := reg.Actions[y.ActionRef]
		if !ok {
			return Step{}, fmt.Errorf("workflow: unresolved action_ref %q for step %q", y.ActionRef, y.StepID)
		}
		s.Action = fn
	}
	if y.DecisionRef != "" {
		fn, ok := reg.Decisions[y.DecisionRef]
		if !ok {
			return Step{}, fmt.Errorf("workflow: unresolved decision_ref %q for step %q", y.DecisionRef, y.StepID)
		}
		s.Decision = fn
	}
	if y.CompensateRef != "" {
		fn, ok := reg.Compensators[y.CompensateRef]
		if !ok {
			return Step{}, fmt.Errorf("workflow: unresolved compensate_ref %q for step %q", y.CompensateRef, y.StepID)
		}
		s.Compensate = fn
	}

	for _, c := range y.Children {
		child, err := reg.resolveStep(c)
		if err != nil {
			return Step{}, err
		}
		s.Children = append(s.Children, child)
	}

	return s, nil
}

// LoadDefinition parses one YAML workflow definition file.
func LoadDefinition(path string, reg Registry) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: failed to read %s: %w", path, err)
	}

	var yd yamlDefinition
	if err := yaml.Unmarshal(raw, &yd); err != nil {
		return Definition{}, fmt.Errorf("workflow: failed to parse %s: %w", path, err)
	}

	def := Definition{
		Name:    yd.Name,
		Version: yd.Version,
		Timeout: parseDuration(yd.Timeout, 0),
	}
	for _, ys := range yd.Steps {
		step, err := reg.resolveStep(ys)
		if err != nil {
			return Definition{}, err
		}
		def.Steps = append(def.Steps, step)
	}

	return def, nil
}

// LoadDefinitionsDir loads every *.yaml/*.yml file in dir.
func LoadDefinitionsDir(dir string, reg Registry) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to read definitions dir %s: %w", dir, err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, entry.Name()), reg)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
