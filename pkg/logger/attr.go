package logger

import (
	"log/slog"

	"github.com/google/uuid"
)

// Component tags records with the emitting subsystem.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Error creates an attribute for a single error under the key "error".
// A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Guid records a runtime path guid.
func Guid(id uuid.UUID) slog.Attr {
	return slog.String("guid", id.String())
}

// Node records a node by name.
func Node(name string) slog.Attr {
	return slog.String("node", name)
}

// Machine records the name of a state machine definition.
func Machine(name string) slog.Attr {
	return slog.String("machine", name)
}

// Transaction records a network transaction kind and id.
func Transaction(kind string, id string) slog.Attr {
	return slog.Group("transaction", slog.String("kind", kind), slog.String("id", id))
}
