// Package observers provides observers for monitoring state machine events
package observers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogError logs only errors
	LogError LogLevel = iota
	// LogWarning logs errors and warnings
	LogWarning
	// LogInfo logs errors, warnings, and info
	LogInfo
	// LogDebug logs errors, warnings, info, and debug
	LogDebug
)

// SlogLevel maps the level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogError:
		return slog.LevelError
	case LogWarning:
		return slog.LevelWarn
	case LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARN"
	case LogDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// LoggingObserver logs state machine events
type LoggingObserver struct {
	level  LogLevel
	prefix string
	mutex  sync.RWMutex
	log    *slog.Logger
}

var _ core.ExtendedObserver = (*LoggingObserver)(nil)

// NewLoggingObserver creates a new logging observer. A nil logger discards
// every record.
func NewLoggingObserver(l *slog.Logger, level LogLevel, prefix string) *LoggingObserver {
	if l == nil {
		l = logger.Discard()
	}
	if prefix != "" {
		l = l.With(logger.Component(prefix))
	}
	return &LoggingObserver{level: level, prefix: prefix, log: l}
}

// SetLevel changes the verbosity at runtime.
func (o *LoggingObserver) SetLevel(level LogLevel) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.level = level
}

func (o *LoggingObserver) Level() LogLevel {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.level
}

func (o *LoggingObserver) emit(level LogLevel, inst *core.Instance, msg string, attrs ...slog.Attr) {
	if level > o.Level() {
		return
	}
	if inst != nil {
		attrs = append(attrs, logger.Machine(inst.Name()))
	}
	o.log.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

func (o *LoggingObserver) OnStateStarted(inst *core.Instance, state core.StateNode) {
	o.emit(LogInfo, inst, "state started", logger.Node(nameOf(state)))
}

func (o *LoggingObserver) OnTransitionTaken(inst *core.Instance, t *core.Transition) {
	o.emit(LogInfo, inst, "transition taken",
		logger.Node(t.Name()),
		slog.String("from", nameOf(t.From())),
		slog.String("to", nameOf(t.To())))
}

func (o *LoggingObserver) OnStateChanged(inst *core.Instance, to, from core.StateNode) {
	o.emit(LogDebug, inst, "active states changed",
		slog.String("from", nameOf(from)), slog.String("to", nameOf(to)))
}

func (o *LoggingObserver) OnInitialized(inst *core.Instance) {
	o.emit(LogDebug, inst, "instance initialized")
}

func (o *LoggingObserver) OnStarted(inst *core.Instance) {
	o.emit(LogInfo, inst, "instance started")
}

func (o *LoggingObserver) OnStopped(inst *core.Instance) {
	o.emit(LogInfo, inst, "instance stopped")
}

func (o *LoggingObserver) OnShutdown(inst *core.Instance) {
	o.emit(LogDebug, inst, "instance shut down")
}

func (o *LoggingObserver) OnError(inst *core.Instance, err error) {
	o.emit(LogError, inst, "instance error", logger.Error(err))
}

// nameOf labels a state by qualified name. Root machines have none and use
// their own name.
func nameOf(s core.StateNode) string {
	if s == nil {
		return "nil"
	}
	if q := s.QualifiedName(); q != "" {
		return q
	}
	return s.Name()
}
