package chain

import (
	"context"
	"fmt"

	"fvfm-analyzer/internal/opencv/safe"
)

type ProcessingStep interface {
	Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error)
	Name() string
	ShouldExecute(params map[string]interface{}) bool
}

// StepObserver sees every intermediate result. It must not close out.
type StepObserver func(step string, out *safe.Mat)

type ProcessingChain struct {
	steps    []ProcessingStep
	observer StepObserver
}

func NewProcessingChain(steps ...ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

// Observe registers fn to be called after each executed step
func (pc *ProcessingChain) Observe(fn StepObserver) *ProcessingChain {
	pc.observer = fn
	return pc
}

// Execute runs the enabled steps in order. The input is never closed; every
// intermediate result is closed once the next step has consumed it. When no
// step runs, a clone of the input is returned so the caller always owns the
// result.
func (pc *ProcessingChain) Execute(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	current := input

	release := func() {
		if current != input {
			current.Close()
		}
	}

	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		default:
		}

		if !step.ShouldExecute(params) {
			continue
		}

		result, err := step.Apply(ctx, current, params)
		if err != nil {
			release()
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}

		release()
		current = result

		if pc.observer != nil {
			pc.observer(step.Name(), current)
		}
	}

	if current == input {
		return input.Clone()
	}
	return current, nil
}

func (pc *ProcessingChain) AddStep(step ProcessingStep) {
	pc.steps = append(pc.steps, step)
}

func (pc *ProcessingChain) StepCount() int {
	return len(pc.steps)
}

// EnabledSteps lists the names of the steps params would run
func (pc *ProcessingChain) EnabledSteps(params map[string]interface{}) []string {
	names := make([]string, 0, len(pc.steps))
	for _, step := range pc.steps {
		if step.ShouldExecute(params) {
			names = append(names, step.Name())
		}
	}
	return names
}
