// Package wizard gates navigation through the linear studio pipeline.
//
// A step is reachable when it has been completed or when it is the step right
// after the highest completed one. Steps are never skipped and the wizard
// never advances on its own.
package wizard

import (
	"errors"
	"fmt"
	"sort"
)

type Step int

const (
	StepInput Step = iota + 1
	StepAnalyze
	StepStrategy
	StepReview
	StepExecute
	StepResults
)

const (
	FirstStep = StepInput
	LastStep  = StepResults
)

var stepNames = map[Step]string{
	StepInput:    "input",
	StepAnalyze:  "analyze",
	StepStrategy: "strategy",
	StepReview:   "review",
	StepExecute:  "execute",
	StepResults:  "results",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

func (s Step) Valid() bool {
	return s >= FirstStep && s <= LastStep
}

// ParseStep accepts a step name.
func ParseStep(name string) (Step, error) {
	for s, n := range stepNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

var (
	ErrUnknownStep = errors.New("unknown step")
	ErrStepLocked  = errors.New("step is not reachable yet")
)

// State is the serializable view of a wizard. CompletedSteps is sorted.
type State struct {
	CurrentStep    Step   `json:"currentStep"`
	CompletedSteps []Step `json:"completedSteps"`
}

// Wizard is not safe for concurrent use; owners serialize access.
type Wizard struct {
	current   Step
	completed map[Step]struct{}
}

func New() *Wizard {
	return &Wizard{
		current:   FirstStep,
		completed: make(map[Step]struct{}),
	}
}

// Restore rebuilds a wizard from a saved state, rejecting states that break
// the reachability invariant.
func Restore(st State) (*Wizard, error) {
	w := New()
	for _, s := range st.CompletedSteps {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownStep, int(s))
		}
		w.completed[s] = struct{}{}
	}
	for s := FirstStep; s <= w.highestCompleted(); s++ {
		if _, ok := w.completed[s]; !ok {
			return nil, fmt.Errorf("completed steps skip %s", s)
		}
	}
	if !st.CurrentStep.Valid() || !w.Reachable(st.CurrentStep) {
		return nil, fmt.Errorf("%w: current step %s", ErrStepLocked, st.CurrentStep)
	}
	w.current = st.CurrentStep
	return w, nil
}

func (w *Wizard) State() State {
	steps := make([]Step, 0, len(w.completed))
	for s := range w.completed {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return State{CurrentStep: w.current, CompletedSteps: steps}
}

func (w *Wizard) Current() Step {
	return w.current
}

func (w *Wizard) IsComplete(step Step) bool {
	_, ok := w.completed[step]
	return ok
}

func (w *Wizard) highestCompleted() Step {
	var max Step
	for s := range w.completed {
		if s > max {
			max = s
		}
	}
	return max
}

// Reachable reports whether the user may view or act on step.
func (w *Wizard) Reachable(step Step) bool {
	if !step.Valid() {
		return false
	}
	if w.IsComplete(step) {
		return true
	}
	return step == w.highestCompleted()+1
}

// Navigate moves to step if it is reachable. Unreachable requests are no-ops.
func (w *Wizard) Navigate(step Step) bool {
	if !w.Reachable(step) {
		return false
	}
	w.current = step
	return true
}

// Next navigates one step forward.
func (w *Wizard) Next() bool {
	return w.Navigate(w.current + 1)
}

// Back navigates one step backward.
func (w *Wizard) Back() bool {
	return w.Navigate(w.current - 1)
}

// Complete marks step as done. Completing a step twice has no effect.
// The current step does not change.
func (w *Wizard) Complete(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStep, int(step))
	}
	if !w.Reachable(step) {
		return fmt.Errorf("%w: %s", ErrStepLocked, step)
	}
	w.completed[step] = struct{}{}
	return nil
}

// Reset clears every completed step and returns to the first step.
func (w *Wizard) Reset() {
	w.current = FirstStep
	w.completed = make(map[Step]struct{})
}
