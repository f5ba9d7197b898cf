package definition

import (
	"strings"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/utils"
)

// Validate checks a definition on its own. References are not followed;
// use Library.Validate for that.
func (d *Definition) Validate() error {
	ec := utils.NewErrorCollector()
	d.validate(ec, nil)
	return ec.Err()
}

// Validate checks every machine in the library, including that each
// reference names a known machine and that references do not form cycles.
func (l *Library) Validate() error {
	ec := utils.NewErrorCollector()
	for _, name := range l.Names() {
		d, _ := l.Get(name)
		d.validate(ec, l)
	}
	for _, name := range l.Names() {
		l.checkCycles(ec, name, map[string]bool{})
	}
	return ec.Err()
}

func (d *Definition) validate(ec *utils.ErrorCollector, lib *Library) {
	if d.Name == "" {
		ec.Add(utils.ErrMissingName)
		return
	}
	if len(d.InitialStates()) == 0 {
		ec.Add(utils.ErrNoInitialState.WithMachine(d.Name))
	}

	guids := make(map[string]string)
	validateScope(ec, d.Name, nil, d.States, d.Transitions, guids, lib)
}

func validateScope(ec *utils.ErrorCollector, machine string, path []string, states []*State,
	transitions []*Transition, guids map[string]string, lib *Library) {
	names := make(map[string]bool, len(states))

	checkGuid := func(explicit, node string) {
		if explicit == "" {
			return
		}
		if _, err := uuid.Parse(explicit); err != nil {
			ec.Add(utils.ErrInvalidGuid.WithMachine(machine).WithNode(node).WithCause(err))
			return
		}
		key := strings.ToLower(explicit)
		if other, dup := guids[key]; dup {
			ec.Add(utils.ErrDuplicateGuid.WithMachine(machine).WithNode(node).WithDetail("other", other))
			return
		}
		guids[key] = node
	}

	for _, s := range states {
		node := qualify(path, s.Name)
		if s.Name == "" {
			ec.Add(utils.ErrMissingName.WithMachine(machine).WithNode(qualify(path, "?")))
			continue
		}
		if names[s.Name] {
			ec.Add(utils.ErrDuplicateState.WithMachine(machine).WithNode(node))
		}
		names[s.Name] = true
		checkGuid(s.Guid, node)

		kind := s.KindOrDefault()
		switch kind {
		case KindState, KindConduit:
			if len(s.States) > 0 || len(s.Transitions) > 0 || s.Reference != "" {
				ec.Add(utils.ErrMisplacedField.WithMachine(machine).WithNode(node).WithDetail("kind", kind))
			}
			if kind == KindConduit {
				validateCondition(ec, machine, node, s.Condition)
			}
		case KindStateMachine:
			if s.Reference != "" {
				ec.Add(utils.ErrMisplacedField.WithMachine(machine).WithNode(node).WithDetail("field", "reference"))
			}
			validateScope(ec, machine, append(append([]string(nil), path...), s.Name), s.States, s.Transitions, guids, lib)
		case KindReference:
			if len(s.States) > 0 || len(s.Transitions) > 0 {
				ec.Add(utils.ErrMisplacedField.WithMachine(machine).WithNode(node).WithDetail("field", "states"))
			}
			if s.Reference == "" {
				ec.Add(utils.ErrMissingReference.WithMachine(machine).WithNode(node))
			} else if lib != nil {
				if _, err := lib.Get(s.Reference); err != nil {
					ec.Add(utils.ErrMissingReference.WithMachine(machine).WithNode(node).WithDetail("reference", s.Reference))
				}
			}
		default:
			ec.Add(utils.ErrInvalidKind.WithMachine(machine).WithNode(node).WithDetail("kind", kind))
		}
	}

	for _, t := range transitions {
		node := qualify(path, t.From+"->"+t.To)
		if !names[t.From] {
			ec.Add(utils.ErrUnknownState.WithMachine(machine).WithNode(node).WithDetail("from", t.From))
		}
		if !names[t.To] {
			ec.Add(utils.ErrUnknownState.WithMachine(machine).WithNode(node).WithDetail("to", t.To))
		}
		validateCondition(ec, machine, node, t.Condition)
		checkGuid(t.Guid, node)
	}
}

func validateCondition(ec *utils.ErrorCollector, machine, node string, c ConditionType) {
	switch c {
	case "", ConditionGraph, ConditionAlwaysTrue, ConditionAlwaysFalse, ConditionNodeInstance:
	default:
		ec.Add(utils.ErrInvalidCondition.WithMachine(machine).WithNode(node).WithDetail("condition", c))
	}
}

// checkCycles follows references depth first and reports a machine that
// reaches itself.
func (l *Library) checkCycles(ec *utils.ErrorCollector, name string, visiting map[string]bool) {
	if visiting[name] {
		ec.Add(utils.ErrReferenceCycle.WithMachine(name))
		return
	}
	d, err := l.Get(name)
	if err != nil {
		return
	}
	visiting[name] = true
	defer delete(visiting, name)

	var refs []string
	d.Walk(func(_ []string, s *State) {
		if s.KindOrDefault() == KindReference && s.Reference != "" {
			refs = append(refs, s.Reference)
		}
	}, nil)
	for _, ref := range refs {
		if visiting[ref] {
			ec.Add(utils.ErrReferenceCycle.WithMachine(name).WithDetail("reference", ref))
			continue
		}
		l.checkCycles(ec, ref, visiting)
	}
}
