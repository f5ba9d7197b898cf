package builders

import (
	"log/slog"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// ConditionalActions provides helper functions for common guards and actions
type ConditionalActions struct{}

// Always passes.
func (ConditionalActions) Always() core.Guard {
	return func(*core.EvalContext) bool { return true }
}

// Never passes.
func (ConditionalActions) Never() core.Guard {
	return func(*core.EvalContext) bool { return false }
}

// After passes once the source state of the evaluated transition has been
// active for at least seconds of tick time.
func (ConditionalActions) After(seconds float64) core.Guard {
	return func(ctx *core.EvalContext) bool {
		t, ok := ctx.Node.(*core.Transition)
		if !ok || t.From() == nil {
			return false
		}
		return t.From().TimeInState() >= seconds
	}
}

// IfPropertyEquals checks a property of the evaluated node.
func (ConditionalActions) IfPropertyEquals(key string, value any) core.Guard {
	return func(ctx *core.EvalContext) bool {
		v, ok := ctx.Node.Property(key)
		return ok && v == value
	}
}

// IfContext passes when check accepts the context object the instance was
// initialized with.
func (ConditionalActions) IfContext(check func(any) bool) core.Guard {
	return func(ctx *core.EvalContext) bool {
		return check(ctx.Context)
	}
}

func (ConditionalActions) Not(g core.Guard) core.Guard {
	return func(ctx *core.EvalContext) bool { return !g(ctx) }
}

// All passes when every guard passes. Evaluation stops at the first
// failure.
func (ConditionalActions) All(guards ...core.Guard) core.Guard {
	return func(ctx *core.EvalContext) bool {
		for _, g := range guards {
			if !g(ctx) {
				return false
			}
		}
		return true
	}
}

// Any passes when one guard passes.
func (ConditionalActions) Any(guards ...core.Guard) core.Guard {
	return func(ctx *core.EvalContext) bool {
		for _, g := range guards {
			if g(ctx) {
				return true
			}
		}
		return false
	}
}

// SetProperty creates an action that sets a property on the node
func (ConditionalActions) SetProperty(key string, value any) core.Action {
	return func(ctx *core.EvalContext) {
		ctx.Node.SetProperty(key, value)
	}
}

// LogMessage creates an action that logs a message with the instance logger
func (ConditionalActions) LogMessage(message string) core.Action {
	return func(ctx *core.EvalContext) {
		ctx.Instance.Logger().Info(message,
			logger.Machine(ctx.Instance.Name()),
			logger.Node(ctx.Node.QualifiedName()),
			slog.Float64("delta", ctx.Delta))
	}
}

// Sequence runs actions in order.
func (ConditionalActions) Sequence(actions ...core.Action) core.Action {
	return func(ctx *core.EvalContext) {
		for _, a := range actions {
			if a != nil {
				a(ctx)
			}
		}
	}
}

// Conditions provides a singleton instance of ConditionalActions
var Conditions = ConditionalActions{}
