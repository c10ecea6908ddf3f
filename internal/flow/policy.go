package flow

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
)

const flowSpecEnv = "GENERATION_FLOWS_YAML"

// StepTerminal is the sentinel returned by NextStep after the last step. It is
// never a runnable step id.
const StepTerminal = "completed"

const (
	FlowTypeOutlineFirst  = "outline_first"
	FlowTypeResearchFirst = "research_first"
)

//go:embed flows.yaml
var flowSpecFS embed.FS

// Step is one runnable stage of a generation flow. Progress is the percentage
// the process reaches once the step completes. Retryable marks steps that can
// be blindly re-run after a crash; selection steps are not, they wait on a
// human choice.
type Step struct {
	Name      string `yaml:"name"`
	Progress  int    `yaml:"progress"`
	Retryable bool   `yaml:"retryable"`
	Input     string `yaml:"input,omitempty"`
	Skippable bool   `yaml:"skippable,omitempty"`
}

type yamlFlowSpec struct {
	Version int            `yaml:"version"`
	Flows   []yamlFlowDef  `yaml:"flows"`
}

type yamlFlowDef struct {
	FlowType string `yaml:"flow_type"`
	Steps    []Step `yaml:"steps"`
}

// Both flows share the same position->percentage table so the progress bar
// reads the same no matter which ordering was chosen at creation.
var fallbackFlows = map[string][]Step{
	FlowTypeOutlineFirst: {
		{Name: "keyword_analyzing", Progress: 10, Retryable: true},
		{Name: "persona_generating", Progress: 20, Input: "persona_selection"},
		{Name: "theme_generating", Progress: 30, Input: "theme_selection"},
		{Name: "outline_generating", Progress: 50, Retryable: true},
		{Name: "researching", Progress: 70, Retryable: true},
		{Name: "writing_sections", Progress: 85, Retryable: true},
		{Name: "editing", Progress: 100, Retryable: true, Skippable: true},
	},
	FlowTypeResearchFirst: {
		{Name: "keyword_analyzing", Progress: 10, Retryable: true},
		{Name: "persona_generating", Progress: 20, Input: "persona_selection"},
		{Name: "theme_generating", Progress: 30, Input: "theme_selection"},
		{Name: "researching", Progress: 50, Retryable: true},
		{Name: "outline_generating", Progress: 70, Retryable: true},
		{Name: "writing_sections", Progress: 85, Retryable: true},
		{Name: "editing", Progress: 100, Retryable: true, Skippable: true},
	},
}

var specOnce sync.Once
var specCache map[string][]Step
var specErr error

func flowTable(log *logger.Logger) map[string][]Step {
	specOnce.Do(func() {
		specCache, specErr = loadFlowSpec()
	})
	if specErr != nil {
		if log != nil {
			log.Warn("flow: spec load failed; using fallback tables", "error", specErr)
		}
		return fallbackFlows
	}
	return specCache
}

func loadFlowSpec() (map[string][]Step, error) {
	raw, err := readFlowSpec()
	if err != nil {
		return nil, err
	}
	var spec yamlFlowSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse flow spec: %w", err)
	}
	out := make(map[string][]Step, len(spec.Flows))
	for _, def := range spec.Flows {
		ft := strings.TrimSpace(def.FlowType)
		if ft == "" || len(def.Steps) == 0 {
			continue
		}
		out[ft] = def.Steps
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("flow spec defines no flows")
	}
	return out, nil
}

func readFlowSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(flowSpecEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return raw, nil
	}
	return flowSpecFS.ReadFile("flows.yaml")
}

// Policy is the step ordering and progress table for one flow type, fixed at
// process creation. SkipEditing drops the editing step and promotes the step
// before it to the terminal percentage.
type Policy struct {
	flowType string
	steps    []Step
}

type Option func(*policyConfig)

type policyConfig struct {
	skipEditing bool
	log         *logger.Logger
}

func WithSkipEditing() Option {
	return func(c *policyConfig) { c.skipEditing = true }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *policyConfig) { c.log = log }
}

func New(flowType string, opts ...Option) (*Policy, error) {
	cfg := policyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	table := flowTable(cfg.log)
	steps, ok := table[flowType]
	if !ok {
		return nil, fmt.Errorf("unknown flow type %q", flowType)
	}
	effective := make([]Step, 0, len(steps))
	for _, s := range steps {
		effective = append(effective, s)
	}
	if cfg.skipEditing {
		effective = dropSkippable(effective)
	}
	return &Policy{flowType: flowType, steps: effective}, nil
}

func dropSkippable(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if s.Skippable {
			continue
		}
		out = append(out, s)
	}
	if len(out) > 0 && len(out) < len(steps) {
		// promote the new final step to the terminal percentage
		out[len(out)-1].Progress = 100
	}
	return out
}

func (p *Policy) Type() string { return p.flowType }

func (p *Policy) Steps() []string {
	out := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, s.Name)
	}
	return out
}

func (p *Policy) FirstStep() string {
	if len(p.steps) == 0 {
		return StepTerminal
	}
	return p.steps[0].Name
}

// NextStep returns the step after the given one, or StepTerminal when the
// given step is the last.
func (p *Policy) NextStep(step string) (string, error) {
	idx := p.indexOf(step)
	if idx < 0 {
		return "", fmt.Errorf("step %q not in flow %q", step, p.flowType)
	}
	if idx == len(p.steps)-1 {
		return StepTerminal, nil
	}
	return p.steps[idx+1].Name, nil
}

// ProgressFor returns the percentage the process holds once the given step has
// completed. The terminal sentinel reads 100; unknown steps read 0.
func (p *Policy) ProgressFor(step string) int {
	if step == StepTerminal {
		return 100
	}
	if idx := p.indexOf(step); idx >= 0 {
		return p.steps[idx].Progress
	}
	return 0
}

func (p *Policy) Contains(step string) bool {
	return p.indexOf(step) >= 0
}

func (p *Policy) Retryable(step string) bool {
	if idx := p.indexOf(step); idx >= 0 {
		return p.steps[idx].Retryable
	}
	return false
}

// InputType returns the expected user decision for selection steps, empty for
// steps that run unattended.
func (p *Policy) InputType(step string) string {
	if idx := p.indexOf(step); idx >= 0 {
		return p.steps[idx].Input
	}
	return ""
}

func (p *Policy) indexOf(step string) int {
	for i, s := range p.steps {
		if s.Name == step {
			return i
		}
	}
	return -1
}

// KnownFlowType reports whether the flow type is defined by the active spec.
func KnownFlowType(flowType string) bool {
	_, ok := flowTable(nil)[flowType]
	return ok
}
