package core

import "github.com/anggasct/logicdriver/pkg/definition"

// Conduit is a pass-through node. Configured as a transition it becomes a
// link in a transition chain; otherwise it behaves like a state that is
// left as soon as one of its exits passes.
type Conduit struct {
	State

	evalWithTransitions   bool
	condition             definition.ConditionType
	canEvaluate           bool
	canEnter              bool
	isEvaluating          bool
	checkedForTransitions bool
}

// IsConfiguredAsTransition reports whether the conduit is evaluated as part
// of the transition leading into it.
func (c *Conduit) IsConfiguredAsTransition() bool { return c.evalWithTransitions }

func (c *Conduit) IsEvaluating() bool { return c.isEvaluating }

// StartState enters the conduit as a state.
func (c *Conduit) StartState() bool {
	if !c.startBase() {
		return false
	}
	c.fireEntered()
	return true
}

func (c *Conduit) UpdateState(delta float64) bool {
	return c.updateBase(delta)
}

func (c *Conduit) EndState(delta float64, via *Transition) bool {
	ended := c.endBase(delta, via)
	c.shutdownTransitions()
	return ended
}

// GetValidTransition evaluates the conduit guard and then the first
// passing exit. A conduit already under evaluation reports nothing, which
// stops loops between conduits.
func (c *Conduit) GetValidTransition() [][]*Transition {
	if c.checkedForTransitions || !c.canEvaluate {
		return nil
	}

	c.isEvaluating = true
	c.evaluateProperties(PropertiesOnTransitionCheck)
	switch c.condition {
	case definition.ConditionAlwaysTrue:
		c.canEnter = true
	case definition.ConditionAlwaysFalse:
		c.canEnter = false
	case definition.ConditionNodeInstance:
		logic, ok := c.GetOrCreateNodeInstance().(TransitionLogic)
		c.canEnter = ok && logic.CanEnterTransition(c.evalContext(0))
	default:
		cb := c.instance.registry.conduit(c.nodeGuid)
		c.canEnter = cb.CanEnter != nil && cb.CanEnter(c.evalContext(0))
	}
	c.isEvaluating = false

	if !c.canEnter {
		return nil
	}

	c.checkedForTransitions = true
	chains := c.validTransitions()
	c.checkedForTransitions = false
	return chains
}

// enterWithTransition runs the entered logic when the conduit is passed
// through as part of a chain.
func (c *Conduit) enterWithTransition() {
	if !c.evalWithTransitions {
		return
	}
	c.setActive(true)
	c.fireEntered()
	c.setActive(false)
}

func (c *Conduit) fireEntered() {
	if !c.canExecuteLogic() {
		return
	}
	if cb := c.instance.registry.conduit(c.nodeGuid); cb.OnEntered != nil {
		cb.OnEntered(c.evalContext(0))
	}
}

func (c *Conduit) reset() {
	c.State.reset()
	c.canEnter = false
	c.isEvaluating = false
	c.checkedForTransitions = false
}
