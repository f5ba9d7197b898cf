// Package definition describes state machines declaratively.
//
// A Definition is plain data: states, transitions and nested machines
// loaded from YAML or assembled with the builders package. The core
// package turns a resolved Definition into a runtime tree.
package definition

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespace seeds node guids derived from names. Two processes loading
// the same definition derive the same guids.
var Namespace = uuid.MustParse("4c0c6d55-9b7e-4a53-8f2d-5d6f0b3c9e21")

// Kind identifies the runtime type of a state node.
type Kind string

const (
	KindState        Kind = "state"
	KindConduit      Kind = "conduit"
	KindStateMachine Kind = "state_machine"
	KindReference    Kind = "reference"
)

// ConditionType selects how a transition decides whether it may be taken.
type ConditionType string

const (
	// ConditionGraph uses the CanEnter callback registered for the node.
	// Without a callback the transition never passes.
	ConditionGraph ConditionType = "graph"
	// ConditionAlwaysTrue passes without consulting any callback.
	ConditionAlwaysTrue ConditionType = "always_true"
	// ConditionAlwaysFalse never passes and does not count as an exit.
	ConditionAlwaysFalse ConditionType = "always_false"
	// ConditionNodeInstance asks the node instance created for the transition.
	ConditionNodeInstance ConditionType = "node_instance"
)

// Definition is a named state machine.
type Definition struct {
	Name            string         `yaml:"name"`
	Guid            string         `yaml:"guid,omitempty"`
	Description     string         `yaml:"description,omitempty"`
	StopOnEndState  bool           `yaml:"stop_on_end_state,omitempty"`
	StateHistoryMax *int           `yaml:"state_history_max,omitempty"`
	States          []*State       `yaml:"states"`
	Transitions     []*Transition  `yaml:"transitions,omitempty"`
	Properties      map[string]any `yaml:"properties,omitempty"`

	// NodeGuid is filled in by Resolve.
	NodeGuid uuid.UUID `yaml:"-"`
	resolved bool
}

// State is a state, conduit, nested machine or reference to another definition.
type State struct {
	Name    string `yaml:"name"`
	Guid    string `yaml:"guid,omitempty"`
	Kind    Kind   `yaml:"kind,omitempty"`
	Initial bool   `yaml:"initial,omitempty"`

	AlwaysUpdate                    bool `yaml:"always_update,omitempty"`
	StayActiveOnStateChange         bool `yaml:"stay_active_on_state_change,omitempty"`
	AllowParallelReentry            bool `yaml:"allow_parallel_reentry,omitempty"`
	EvalTransitionsOnStart          bool `yaml:"eval_transitions_on_start,omitempty"`
	DisableTickTransitionEvaluation bool `yaml:"disable_tick_transition_evaluation,omitempty"`

	// Conduit only.
	EvalWithTransitions bool          `yaml:"eval_with_transitions,omitempty"`
	Condition           ConditionType `yaml:"condition,omitempty"`

	// State machine and reference.
	WaitForEndState    bool          `yaml:"wait_for_end_state,omitempty"`
	ReuseCurrentState  bool          `yaml:"reuse_current_state,omitempty"`
	ReuseIfNotEndState bool          `yaml:"reuse_if_not_end_state,omitempty"`
	States             []*State      `yaml:"states,omitempty"`
	Transitions        []*Transition `yaml:"transitions,omitempty"`

	// Reference only.
	Reference  string `yaml:"reference,omitempty"`
	Template   string `yaml:"template,omitempty"`
	Replicated bool   `yaml:"replicated,omitempty"`

	Properties map[string]any `yaml:"properties,omitempty"`

	NodeGuid uuid.UUID `yaml:"-"`
}

// Transition connects two states of the same scope by name.
type Transition struct {
	Name        string        `yaml:"name,omitempty"`
	Guid        string        `yaml:"guid,omitempty"`
	From        string        `yaml:"from"`
	To          string        `yaml:"to"`
	Priority    int           `yaml:"priority,omitempty"`
	Condition   ConditionType `yaml:"condition,omitempty"`
	RunParallel bool          `yaml:"run_parallel,omitempty"`

	// Flags that default to true when omitted.
	CanEvaluate           *bool `yaml:"can_evaluate,omitempty"`
	CanEvaluateFromEvent  *bool `yaml:"can_evaluate_from_event,omitempty"`
	EvalIfNextStateActive *bool `yaml:"eval_if_next_state_active,omitempty"`
	CanEvalWithStartState *bool `yaml:"can_eval_with_start_state,omitempty"`

	Properties map[string]any `yaml:"properties,omitempty"`

	NodeGuid uuid.UUID `yaml:"-"`
	FromGuid uuid.UUID `yaml:"-"`
	ToGuid   uuid.UUID `yaml:"-"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Bool returns a pointer to v, for the optional transition flags.
func Bool(v bool) *bool { return &v }

func (t *Transition) Evaluates() bool { return boolOr(t.CanEvaluate, true) }
func (t *Transition) EvaluatesFromEvent() bool { return boolOr(t.CanEvaluateFromEvent, true) }
func (t *Transition) EvaluatesIfNextActive() bool { return boolOr(t.EvalIfNextStateActive, true) }
func (t *Transition) EvaluatesWithStart() bool { return boolOr(t.CanEvalWithStartState, true) }

// ConditionOrDefault returns the condition, defaulting to ConditionGraph.
func (t *Transition) ConditionOrDefault() ConditionType {
	if t.Condition == "" {
		return ConditionGraph
	}
	return t.Condition
}

// KindOrDefault returns the kind, inferring it from the other fields when omitted.
func (s *State) KindOrDefault() Kind {
	switch {
	case s.Kind != "":
		return s.Kind
	case s.Reference != "":
		return KindReference
	case len(s.States) > 0:
		return KindStateMachine
	default:
		return KindState
	}
}

// IsMachine reports whether the state owns a scope of its own or references one.
func (s *State) IsMachine() bool {
	k := s.KindOrDefault()
	return k == KindStateMachine || k == KindReference
}

// Resolved reports whether Resolve has run.
func (d *Definition) Resolved() bool { return d.resolved }

// Resolve assigns node guids and binds transition endpoints. It is
// idempotent and reports the first structural error it finds. Use
// Validate for a complete report.
func (d *Definition) Resolve() error {
	if d.resolved {
		return nil
	}
	if d.Name == "" {
		return NewDefinitionError("", "definition name is required")
	}

	guid, err := nodeGuid(d.Guid, "machine/"+d.Name)
	if err != nil {
		return NewDefinitionError(d.Name, err.Error())
	}
	d.NodeGuid = guid

	if err := resolveScope(d.Name, nil, d.States, d.Transitions); err != nil {
		return err
	}
	d.resolved = true
	return nil
}

func resolveScope(defName string, path []string, states []*State, transitions []*Transition) error {
	byName := make(map[string]*State, len(states))
	for _, s := range states {
		if s.Name == "" {
			return NewDefinitionError(defName, fmt.Sprintf("state without name in scope %q", strings.Join(path, ".")))
		}
		statePath := append(append([]string(nil), path...), s.Name)
		guid, err := nodeGuid(s.Guid, defName+"/"+strings.Join(statePath, "/"))
		if err != nil {
			return NewDefinitionError(defName, err.Error())
		}
		s.NodeGuid = guid
		byName[s.Name] = s

		if s.KindOrDefault() == KindStateMachine {
			if err := resolveScope(defName, statePath, s.States, s.Transitions); err != nil {
				return err
			}
		}
	}

	seen := make(map[string]int, len(transitions))
	for _, t := range transitions {
		from, ok := byName[t.From]
		if !ok {
			return NewDefinitionError(defName, fmt.Sprintf("transition from unknown state %q", qualify(path, t.From)))
		}
		to, ok := byName[t.To]
		if !ok {
			return NewDefinitionError(defName, fmt.Sprintf("transition to unknown state %q", qualify(path, t.To)))
		}
		t.FromGuid = from.NodeGuid
		t.ToGuid = to.NodeGuid

		if t.Name == "" {
			base := t.From + "->" + t.To
			seen[base]++
			t.Name = base
			if n := seen[base]; n > 1 {
				t.Name = fmt.Sprintf("%s#%d", base, n)
			}
		}
		guid, err := nodeGuid(t.Guid, defName+"/"+qualify(path, t.Name))
		if err != nil {
			return NewDefinitionError(defName, err.Error())
		}
		t.NodeGuid = guid
	}
	return nil
}

func qualify(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}

func nodeGuid(explicit, seed string) (uuid.UUID, error) {
	if explicit != "" {
		id, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid guid %q: %w", explicit, err)
		}
		return id, nil
	}
	return uuid.NewSHA1(Namespace, []byte(seed)), nil
}

// InitialStates returns the entry states of the root scope.
func (d *Definition) InitialStates() []*State {
	var out []*State
	for _, s := range d.States {
		if s.Initial {
			out = append(out, s)
		}
	}
	return out
}

// FindState looks up a state by dotted path, for example "Combat.Attack".
func (d *Definition) FindState(qualified string) *State {
	parts := strings.Split(qualified, ".")
	states := d.States
	var found *State
	for _, part := range parts {
		found = nil
		for _, s := range states {
			if s.Name == part {
				found = s
				break
			}
		}
		if found == nil {
			return nil
		}
		states = found.States
	}
	return found
}

// FindTransition looks up a transition by dotted path. The last element
// is the transition name; the rest name the owning nested machine.
func (d *Definition) FindTransition(qualified string) *Transition {
	transitions := d.Transitions
	name := qualified
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		// Transition names may contain dots only through their endpoints, so
		// prefer the longest owning machine that exists.
		if owner := d.FindState(qualified[:idx]); owner != nil {
			transitions = owner.Transitions
			name = qualified[idx+1:]
		}
	}
	for _, t := range transitions {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// NodeGuidOf returns the node guid of a state or transition by dotted path.
// The definition must be resolved. It returns uuid.Nil when nothing matches.
func (d *Definition) NodeGuidOf(qualified string) uuid.UUID {
	if s := d.FindState(qualified); s != nil {
		return s.NodeGuid
	}
	if t := d.FindTransition(qualified); t != nil {
		return t.NodeGuid
	}
	return uuid.Nil
}

// MustNodeGuidOf is NodeGuidOf that panics when nothing matches.
func (d *Definition) MustNodeGuidOf(qualified string) uuid.UUID {
	id := d.NodeGuidOf(qualified)
	if id == uuid.Nil {
		panic(fmt.Sprintf("definition %q has no node %q", d.Name, qualified))
	}
	return id
}

// Walk visits every state and transition depth first, in declaration
// order. It does not follow references.
func (d *Definition) Walk(visitState func(path []string, s *State), visitTransition func(path []string, t *Transition)) {
	walkScope(nil, d.States, d.Transitions, visitState, visitTransition)
}

func walkScope(path []string, states []*State, transitions []*Transition,
	visitState func([]string, *State), visitTransition func([]string, *Transition)) {
	for _, s := range states {
		if visitState != nil {
			visitState(path, s)
		}
		if s.KindOrDefault() == KindStateMachine {
			walkScope(append(append([]string(nil), path...), s.Name), s.States, s.Transitions, visitState, visitTransition)
		}
	}
	for _, t := range transitions {
		if visitTransition != nil {
			visitTransition(path, t)
		}
	}
}

// NodeCount returns the number of states and transitions, nested included.
func (d *Definition) NodeCount() int {
	n := 0
	d.Walk(func([]string, *State) { n++ }, func([]string, *Transition) { n++ })
	return n
}
