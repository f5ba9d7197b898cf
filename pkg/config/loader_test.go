package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/config"
)

type parseSettings struct {
	Name    string  `env:"LD_TEST_NAME" envDefault:"default"`
	Count   int     `env:"LD_TEST_COUNT" envDefault:"3"`
	Enabled bool    `env:"LD_TEST_ENABLED"`
	Ratio   float64 `env:"LD_TEST_RATIO" envDefault:"0.5"`
}

type cachedSettings struct {
	Value string `env:"LD_TEST_CACHED" envDefault:"first"`
}

type brokenSettings struct {
	Count int `env:"LD_TEST_BROKEN"`
}

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var s parseSettings
		require.NoError(t, config.Parse(&s))
		assert.Equal(t, "default", s.Name)
		assert.Equal(t, 3, s.Count)
		assert.False(t, s.Enabled)
		assert.Equal(t, 0.5, s.Ratio)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("LD_TEST_NAME", "custom")
		t.Setenv("LD_TEST_COUNT", "7")
		t.Setenv("LD_TEST_ENABLED", "true")

		var s parseSettings
		require.NoError(t, config.Parse(&s))
		assert.Equal(t, "custom", s.Name)
		assert.Equal(t, 7, s.Count)
		assert.True(t, s.Enabled)
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Parse[parseSettings](nil), config.ErrNilPointer)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("LD_TEST_BROKEN", "not-a-number")
		var s brokenSettings
		assert.ErrorIs(t, config.Parse(&s), config.ErrParsingConfig)
	})
}

func TestLoadCachesPerType(t *testing.T) {
	var first cachedSettings
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("LD_TEST_CACHED", "second")

	var second cachedSettings
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)
}

func TestMustLoadPanicsOnError(t *testing.T) {
	t.Setenv("LD_TEST_BROKEN", "nope")
	assert.Panics(t, func() {
		var s brokenSettings
		config.MustLoad(&s)
	})
}
