package measure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-measure/internal/timer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.MemoryRecording)
	assert.Equal(t, timer.Default(), cfg.Timer)
	assert.False(t, cfg.ThreadExperimentalReuse)
	assert.Empty(t, cfg.FilteringFile)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvMemoryRecording, "false")
	t.Setenv(EnvTimer, "clock_gettime")
	t.Setenv(EnvThreadExperimentalReuse, "yes")
	t.Setenv(EnvVerbose, "1")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.MemoryRecording)
	assert.Equal(t, timer.KindClockGettime, cfg.Timer)
	assert.True(t, cfg.ThreadExperimentalReuse)
	assert.False(t, cfg.ThreadExperimentalReuseAlways)
	assert.True(t, cfg.Verbose)
}

func TestConfigReuseAlwaysImpliesReuse(t *testing.T) {
	t.Setenv(EnvThreadExperimentalReuseAlways, "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.ThreadExperimentalReuseAlways)
	assert.True(t, cfg.ThreadExperimentalReuse)
}

func TestConfigRejectsBadValues(t *testing.T) {
	t.Setenv(EnvMemoryRecording, "maybe")
	_, err := ConfigFromEnv()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))

	t.Setenv(EnvMemoryRecording, "true")
	t.Setenv(EnvTimer, "sundial")
	_, err = ConfigFromEnv()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))
}

func TestStructuredError(t *testing.T) {
	err := NewError("CONFIG_PARSE", ErrCodeInvalidConfig, "bad timer")
	assert.Equal(t, "measure: bad timer (op=CONFIG_PARSE)", err.Error())
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))
	assert.False(t, IsCode(err, ErrCodeUnknownHandle))

	wrapped := WrapError("BEGIN", ErrCodeInvalidConfig, err)
	assert.Equal(t, "BEGIN", wrapped.Op)
	assert.Equal(t, ErrCodeInvalidConfig, wrapped.Code)

	assert.Nil(t, WrapError("NOOP", ErrCodeInvalidConfig, nil))

	locErr := NewLocationError("EXIT_REGION", 3, ErrCodeRegionNotEntered, "")
	assert.Equal(t, uint64(3), locErr.Location)
	assert.Contains(t, locErr.Error(), string(ErrCodeRegionNotEntered))
}

func TestStatsSnapshot(t *testing.T) {
	var stats Stats
	stats.Enters.Add(10)
	stats.Exits.Add(10)
	stats.FilteredEnters.Add(10)
	stats.Allocs.Add(5)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(25), snap.TotalEvents)
	assert.Equal(t, 0.5, snap.FilteredShare)

	stats.Reset()
	snap = stats.Snapshot()
	assert.Zero(t, snap.TotalEvents)
	assert.Zero(t, snap.FilteredShare)
}
