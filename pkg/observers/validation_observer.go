package observers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
)

// ValidationObserver validates state machine behavior. States are keyed by
// qualified name.
type ValidationObserver struct {
	expectedStates     map[string]bool
	visitedStates      map[string]bool
	allowedTransitions map[string]map[string]bool
	violations         []string
	mutex              sync.RWMutex
}

var _ core.ExtendedObserver = (*ValidationObserver)(nil)

// NewValidationObserver creates a new validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		allowedTransitions: make(map[string]map[string]bool),
		violations:         make([]string, 0),
	}
}

// ExpectDefinition expects every state of def and allows every declared
// transition.
func (o *ValidationObserver) ExpectDefinition(def *definition.Definition) {
	def.Walk(func(path []string, s *definition.State) {
		o.AddExpectedState(qualified(path, s.Name))
	}, func(path []string, t *definition.Transition) {
		o.AddAllowedTransition(qualified(path, t.From), qualified(path, t.To))
	})
}

// AddExpectedState adds an expected state
func (o *ValidationObserver) AddExpectedState(stateName string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[stateName] = true
}

// AddAllowedTransition adds an allowed transition
func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.allowedTransitions[from]; !exists {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

func (o *ValidationObserver) addViolation(message string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.violations = append(o.violations, message)
}

// OnStateStarted marks the state as visited
func (o *ValidationObserver) OnStateStarted(_ *core.Instance, state core.StateNode) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.visitedStates[nameOf(state)] = true
}

// OnTransitionTaken validates transitions
func (o *ValidationObserver) OnTransitionTaken(_ *core.Instance, t *core.Transition) {
	if t.From() == nil || t.To() == nil {
		return
	}
	fromName, toName := nameOf(t.From()), nameOf(t.To())

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if allowed, exists := o.allowedTransitions[fromName]; exists && !allowed[toName] {
		o.violations = append(o.violations, fmt.Sprintf(
			"invalid transition from '%s' to '%s' via '%s'", fromName, toName, t.Name()))
	}
}

func (o *ValidationObserver) OnStateChanged(*core.Instance, core.StateNode, core.StateNode) {}
func (o *ValidationObserver) OnInitialized(*core.Instance)                                {}
func (o *ValidationObserver) OnStarted(*core.Instance)                                    {}
func (o *ValidationObserver) OnStopped(*core.Instance)                                    {}
func (o *ValidationObserver) OnShutdown(*core.Instance)                                   {}

// OnError records the error as a violation
func (o *ValidationObserver) OnError(_ *core.Instance, err error) {
	o.addViolation(fmt.Sprintf("error occurred: %v", err))
}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// GetUnvisitedStates returns states that were expected but not visited,
// sorted by name.
func (o *ValidationObserver) GetUnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var unvisited []string
	for state := range o.expectedStates {
		if !o.visitedStates[state] {
			unvisited = append(unvisited, state)
		}
	}
	sort.Strings(unvisited)
	return unvisited
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates = make(map[string]bool)
	o.violations = make([]string, 0)
}

func qualified(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}
