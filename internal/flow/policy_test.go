package flow

import (
	"testing"
)

func TestOutlineFirstStepOrder(t *testing.T) {
	p, err := New(FlowTypeOutlineFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{
		"keyword_analyzing",
		"persona_generating",
		"theme_generating",
		"outline_generating",
		"researching",
		"writing_sections",
		"editing",
	}
	got := p.Steps()
	if len(got) != len(want) {
		t.Fatalf("steps: want=%d got=%d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step[%d]: want=%q got=%q", i, want[i], got[i])
		}
	}
}

func TestResearchFirstSwapsMiddleSteps(t *testing.T) {
	p, err := New(FlowTypeResearchFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	steps := p.Steps()
	if steps[3] != "researching" || steps[4] != "outline_generating" {
		t.Fatalf("middle steps: got %v", steps)
	}
	// same positional percentages as outline_first
	if p.ProgressFor("researching") != 50 {
		t.Fatalf("researching progress: want=50 got=%d", p.ProgressFor("researching"))
	}
	if p.ProgressFor("outline_generating") != 70 {
		t.Fatalf("outline_generating progress: want=70 got=%d", p.ProgressFor("outline_generating"))
	}
}

func TestNextStepTerminatesAfterLastStep(t *testing.T) {
	p, err := New(FlowTypeOutlineFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	step := p.FirstStep()
	seen := 0
	for step != StepTerminal {
		seen++
		if seen > 20 {
			t.Fatalf("flow did not terminate, stuck at %q", step)
		}
		next, err := p.NextStep(step)
		if err != nil {
			t.Fatalf("NextStep(%q): %v", step, err)
		}
		step = next
	}
	if seen != 7 {
		t.Fatalf("step count: want=7 got=%d", seen)
	}
}

func TestNextStepUnknownStep(t *testing.T) {
	p, err := New(FlowTypeOutlineFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.NextStep("no_such_step"); err == nil {
		t.Fatalf("expected error for unknown step")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	for _, flowType := range []string{FlowTypeOutlineFirst, FlowTypeResearchFirst} {
		p, err := New(flowType)
		if err != nil {
			t.Fatalf("New(%q): %v", flowType, err)
		}
		prev := 0
		for _, step := range p.Steps() {
			pct := p.ProgressFor(step)
			if pct <= prev {
				t.Fatalf("%s: progress not increasing at %q: prev=%d got=%d", flowType, step, prev, pct)
			}
			prev = pct
		}
		if prev != 100 {
			t.Fatalf("%s: final step progress: want=100 got=%d", flowType, prev)
		}
	}
}

func TestSkipEditingPromotesWritingToTerminal(t *testing.T) {
	p, err := New(FlowTypeOutlineFirst, WithSkipEditing())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	steps := p.Steps()
	if steps[len(steps)-1] != "writing_sections" {
		t.Fatalf("last step: want=writing_sections got=%q", steps[len(steps)-1])
	}
	if p.Contains("editing") {
		t.Fatalf("editing should be dropped")
	}
	if p.ProgressFor("writing_sections") != 100 {
		t.Fatalf("writing_sections progress: want=100 got=%d", p.ProgressFor("writing_sections"))
	}
	next, err := p.NextStep("writing_sections")
	if err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if next != StepTerminal {
		t.Fatalf("next after writing_sections: want=%q got=%q", StepTerminal, next)
	}
}

func TestSelectionStepsAreNotRetryable(t *testing.T) {
	p, err := New(FlowTypeOutlineFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Retryable("persona_generating") || p.Retryable("theme_generating") {
		t.Fatalf("selection steps must not be retryable")
	}
	if !p.Retryable("keyword_analyzing") || !p.Retryable("writing_sections") {
		t.Fatalf("generation steps should be retryable")
	}
	if p.InputType("persona_generating") != "persona_selection" {
		t.Fatalf("persona input type: got=%q", p.InputType("persona_generating"))
	}
	if p.InputType("theme_generating") != "theme_selection" {
		t.Fatalf("theme input type: got=%q", p.InputType("theme_generating"))
	}
	if p.InputType("researching") != "" {
		t.Fatalf("researching should not expect input, got=%q", p.InputType("researching"))
	}
}

func TestProgressForTerminalAndUnknown(t *testing.T) {
	p, err := New(FlowTypeResearchFirst)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ProgressFor(StepTerminal) != 100 {
		t.Fatalf("terminal progress: want=100 got=%d", p.ProgressFor(StepTerminal))
	}
	if p.ProgressFor("bogus") != 0 {
		t.Fatalf("unknown progress: want=0 got=%d", p.ProgressFor("bogus"))
	}
}

func TestUnknownFlowType(t *testing.T) {
	if _, err := New("spiral_first"); err == nil {
		t.Fatalf("expected error for unknown flow type")
	}
	if KnownFlowType("spiral_first") {
		t.Fatalf("spiral_first should not be known")
	}
	if !KnownFlowType(FlowTypeOutlineFirst) {
		t.Fatalf("outline_first should be known")
	}
}
