package builders

import (
	"sort"

	"github.com/anggasct/logicdriver/pkg/core"
)

// WorkflowCompleted names the end state added by FinishWorkflow.
const WorkflowCompleted = "workflow_completed"

// WorkflowBuilder provides specialized builder for workflow patterns. Each
// step is a state; the previous steps lead into the next one.
type WorkflowBuilder struct {
	*StateMachineBuilder
	last []string
}

// NewWorkflowBuilder creates a new workflow builder
func NewWorkflowBuilder(name string) *WorkflowBuilder {
	return &WorkflowBuilder{StateMachineBuilder: NewStateMachineBuilder(name)}
}

// link connects every previous step to to, or makes to the entry state.
func (w *WorkflowBuilder) link(to string, guard core.Guard) {
	if len(w.last) == 0 {
		w.SetInitialState(to)
		return
	}
	for _, from := range w.last {
		tb := w.WithTransition(from, to)
		if guard == nil {
			tb.AlwaysTrue()
		} else {
			tb.WithGuard(guard)
		}
	}
}

// AddSequentialStep adds a step that runs action when it begins. The
// previous steps move on to it when until passes; a nil until moves on at
// the next evaluation.
func (w *WorkflowBuilder) AddSequentialStep(name string, action core.Action, until core.Guard) *WorkflowBuilder {
	w.WithState(name).WithEntryAction(action)
	w.link(name, until)
	w.last = []string{name}
	return w
}

// AddConditionalBranch adds a conduit that picks the first branch whose
// guard passes. Branches are tried in name order and all lead to the next
// step.
func (w *WorkflowBuilder) AddConditionalBranch(name string, branches map[string]core.Guard) *WorkflowBuilder {
	w.AddConduit(name, Conditions.Always())
	w.link(name, nil)

	targets := make([]string, 0, len(branches))
	for target := range branches {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for i, target := range targets {
		w.AddSimpleState(target)
		w.WithTransition(name, target).WithPriority(i).WithGuard(branches[target])
	}
	w.last = targets
	return w
}

// FinishWorkflow adds an end state after the last steps and stops the
// instance when it is reached.
func (w *WorkflowBuilder) FinishWorkflow() *WorkflowBuilder {
	w.AddSimpleState(WorkflowCompleted)
	w.link(WorkflowCompleted, nil)
	w.last = []string{WorkflowCompleted}
	w.StopOnEndState()
	return w
}
