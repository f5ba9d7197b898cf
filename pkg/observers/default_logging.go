package observers

import "github.com/anggasct/logicdriver/pkg/logger"

// NewDefaultLoggingObserver creates a logging observer with default settings
// (LogInfo level, text output)
func NewDefaultLoggingObserver() *LoggingObserver {
	return NewLoggingObserver(logger.New(logger.WithFormat(logger.FormatText)), LogInfo, "StateMachine")
}
