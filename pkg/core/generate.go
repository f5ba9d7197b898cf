package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// generation tracks the definitions being generated along the current
// reference chain. A definition seen twice on the chain references itself.
type generation struct {
	counts map[string]int
}

func newGeneration(root string) *generation {
	return &generation{counts: map[string]int{root: 1}}
}

// generate builds the runtime tree of the definition into i.root. Nested
// machines are built in place and references become child instances.
func (i *Instance) generate(ctx context.Context, gen *generation) error {
	def := i.def
	if err := def.Resolve(); err != nil {
		return NewGenerationError(ErrCodeGenerationFailed, def.Name, "", "definition does not resolve", err)
	}
	if len(def.InitialStates()) == 0 {
		return NewConfigurationError(def.Name, "definition has no entry state")
	}

	i.propertyData = cachedPropertyDataFor(def)

	root := newStateMachine()
	i.initNode(&root.node, root, def.NodeGuid, def.Name, KindStateMachine, nil)
	root.serverTimeInState = ActiveTimeNotSet
	i.root = root

	return i.buildScope(ctx, gen, root, def.States, def.Transitions)
}

func (i *Instance) initNode(n *node, self Node, nodeGuid uuid.UUID, name string, kind NodeKind, owner *StateMachine) {
	n.self = self
	n.nodeGuid = nodeGuid
	n.name = name
	n.kind = kind
	n.owner = owner
	n.instance = i
	n.properties = i.propertyData.Defaults(nodeGuid)
}

func (i *Instance) initState(st *State, self StateNode, ds *definition.State, kind NodeKind, owner *StateMachine) {
	i.initNode(&st.node, self, ds.NodeGuid, ds.Name, kind, owner)
	st.serverTimeInState = ActiveTimeNotSet
	st.alwaysUpdate = ds.AlwaysUpdate
	st.stayActiveOnStateChange = ds.StayActiveOnStateChange
	st.allowParallelReentry = ds.AllowParallelReentry
	st.evalTransitionsOnStart = ds.EvalTransitionsOnStart
	st.disableTickTransitionEvaluation = ds.DisableTickTransitionEvaluation
}

// buildScope adds states first, so that transitions can be linked to them
// in a second pass.
func (i *Instance) buildScope(ctx context.Context, gen *generation, sm *StateMachine,
	states []*definition.State, transitions []*definition.Transition) error {
	byNodeGuid := make(map[uuid.UUID]StateNode, len(states))

	for _, ds := range states {
		if err := ctx.Err(); err != nil {
			return err
		}

		var sn StateNode
		switch ds.KindOrDefault() {
		case definition.KindConduit:
			c := &Conduit{
				evalWithTransitions: ds.EvalWithTransitions,
				condition:           ds.Condition,
				canEvaluate:         true,
			}
			i.initState(&c.State, c, ds, KindConduit, sm)
			// Conduits are left in the pass they are entered.
			c.evalTransitionsOnStart = true
			sn = c

		case definition.KindStateMachine:
			nested := newStateMachine()
			i.initState(&nested.State, nested, ds, KindStateMachine, sm)
			nested.waitForEndState = ds.WaitForEndState
			nested.reuseCurrentState = ds.ReuseCurrentState
			nested.onlyReuseIfNotEndState = ds.ReuseIfNotEndState
			if err := i.buildScope(ctx, gen, nested, ds.States, ds.Transitions); err != nil {
				return err
			}
			sn = nested

		case definition.KindReference:
			nested := newStateMachine()
			i.initState(&nested.State, nested, ds, KindStateMachine, sm)
			nested.waitForEndState = ds.WaitForEndState
			nested.reuseCurrentState = ds.ReuseCurrentState
			nested.onlyReuseIfNotEndState = ds.ReuseIfNotEndState
			if err := i.buildReference(ctx, gen, nested, ds); err != nil {
				return err
			}
			sn = nested

		default:
			st := &State{}
			i.initState(st, st, ds, KindState, sm)
			sn = st
		}

		sm.states = append(sm.states, sn)
		byNodeGuid[ds.NodeGuid] = sn
		if ds.Initial {
			sn.state().isRootNode = true
			sm.AddInitialState(sn)
		}
	}

	for _, dt := range transitions {
		from, ok := byNodeGuid[dt.FromGuid]
		if !ok {
			return NewConfigurationError(i.def.Name,
				fmt.Sprintf("transition %s could not locate its from state %s", dt.Name, dt.FromGuid))
		}
		to, ok := byNodeGuid[dt.ToGuid]
		if !ok {
			return NewConfigurationError(i.def.Name,
				fmt.Sprintf("transition %s could not locate its to state %s", dt.Name, dt.ToGuid))
		}

		cond := dt.ConditionOrDefault()
		t := &Transition{
			from:                  from,
			to:                    to,
			priority:              dt.Priority,
			condition:             cond,
			canEvaluate:           dt.Evaluates(),
			canEvaluateFromEvent:  dt.EvaluatesFromEvent(),
			runParallel:           dt.RunParallel,
			evalIfNextStateActive: dt.EvaluatesIfNextActive(),
			canEvalWithStartState: dt.EvaluatesWithStart(),
			alwaysFalse:           cond == definition.ConditionAlwaysFalse,
			serverTimeInState:     ActiveTimeNotSet,
		}
		i.initNode(&t.node, t, dt.NodeGuid, dt.Name, KindTransition, sm)

		from.state().outgoing = append(from.state().outgoing, t)
		to.state().incoming = append(to.state().incoming, t)
		sm.transitions = append(sm.transitions, t)
	}

	for _, s := range sm.states {
		s.state().sortTransitions()
	}
	return nil
}

// buildReference creates or reuses the instance a reference node points
// to and generates it within the current generation.
func (i *Instance) buildReference(ctx context.Context, gen *generation, sm *StateMachine, ds *definition.State) error {
	if i.library == nil {
		return NewGenerationError(ErrCodeGenerationFailed, i.def.Name, ds.Name, "reference needs a library", nil)
	}
	refDef, err := i.library.Get(ds.Reference)
	if err != nil {
		return NewGenerationError(ErrCodeGenerationFailed, i.def.Name, ds.Name, "reference not found", err)
	}
	if gen.counts[refDef.Name] > 0 {
		return NewGenerationError(ErrCodeReferenceCycle, i.def.Name, ds.Name,
			fmt.Sprintf("circular reference to %s", refDef.Name), nil)
	}

	var tmpl *definition.Template
	if ds.Template != "" {
		if t, ok := i.library.Template(ds.Template); ok {
			tmpl = t
		} else {
			i.logger.Error("reference template not found, loading defaults",
				logger.Node(ds.Name), logger.Component(ds.Template))
		}
	}

	pathGuid := PathToGuid(sm.pathString())
	ref := i.FindReplicatedReference(pathGuid)
	if ref == nil {
		ref = NewInstance(refDef,
			WithLogger(i.baseLogger),
			WithRegistry(i.registry),
			WithLibrary(i.library),
			WithClock(i.clock),
			WithSettings(i.settings),
		)
		if ds.Replicated {
			i.AddReplicatedReference(pathGuid, ref)
		}
	}
	ref.SetReferenceOwner(i)
	ref.applySettings(tmpl)
	ref.canExecuteStateLogic = i.canExecuteStateLogic

	if !ref.initialized {
		gen.counts[refDef.Name]++
		ref.context = i.context
		err = ref.generate(ctx, gen)
		gen.counts[refDef.Name]--
		if err != nil {
			return err
		}
	}
	if tmpl != nil {
		for k, v := range tmpl.Properties {
			ref.root.SetProperty(k, v)
		}
	}

	sm.referenceName = refDef.Name
	sm.referenceTemplate = ds.Template
	sm.replicated = ds.Replicated
	sm.setInstanceReference(ref)
	return nil
}

// setInstanceReference links sm to ref. The referenced root takes sm as
// its owner so that guids and names continue through the boundary.
func (sm *StateMachine) setInstanceReference(ref *Instance) {
	sm.reference = ref
	if ref == nil {
		return
	}
	ref.root.reuseCurrentState = sm.reuseCurrentState
	ref.root.onlyReuseIfNotEndState = sm.onlyReuseIfNotEndState
	ref.root.setOwner(sm)
}
