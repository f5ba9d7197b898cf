package core

import "github.com/anggasct/logicdriver/pkg/config"

// DefaultStateHistoryMax bounds the state history when nothing else does.
const DefaultStateHistoryMax = 20

// Settings are engine-wide defaults. A definition or template may override
// StopOnEndState and StateHistoryMax.
type Settings struct {
	StateHistoryMax int  `env:"LD_STATE_HISTORY_MAX" envDefault:"20"`
	StopOnEndState  bool `env:"LD_STOP_ON_END_STATE" envDefault:"false"`
	// AutoManageTime makes Update ignore the given delta and measure the
	// wall-clock time since the previous update instead.
	AutoManageTime  bool `env:"LD_AUTO_MANAGE_TIME" envDefault:"false"`
	LogStateChanges bool `env:"LD_LOG_STATE_CHANGES" envDefault:"false"`
	LogTransitions  bool `env:"LD_LOG_TRANSITIONS" envDefault:"false"`
}

// DefaultSettings returns the built-in defaults without reading the environment.
func DefaultSettings() Settings {
	return Settings{StateHistoryMax: DefaultStateHistoryMax}
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()
	if err := config.Parse(&s); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}
