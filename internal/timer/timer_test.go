package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	k, ok := Parse("clock_gettime")
	require.True(t, ok)
	assert.Equal(t, KindClockGettime, k)

	k, ok = Parse("gettimeofday")
	require.True(t, ok)
	assert.Equal(t, KindGettimeofday, k)

	_, ok = Parse("sundial")
	assert.False(t, ok)

	if tscSupported() {
		k, ok = Parse("tsc")
		require.True(t, ok)
		assert.Equal(t, KindTsc, k)
	}
}

func TestAvailableLeadsWithDefault(t *testing.T) {
	avail := Available()
	require.NotEmpty(t, avail)
	assert.Equal(t, Default().String(), avail[0])
}

func TestTicksAreMonotonic(t *testing.T) {
	tm := New(KindClockGettime)
	tm.Initialize()

	prev := tm.Ticks()
	for i := 0; i < 1000; i++ {
		now := tm.Ticks()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
	assert.Equal(t, uint64(1000000000), tm.ClockResolution())
	assert.False(t, tm.ClockIsGlobal())
}

func TestWallclockResolution(t *testing.T) {
	tm := New(KindGettimeofday)
	tm.Initialize()
	assert.Equal(t, uint64(1000000), tm.ClockResolution())
	assert.NotZero(t, tm.Ticks())
}

func TestTscInterpolation(t *testing.T) {
	if !tscSupported() {
		t.Skip("no time stamp counter on this architecture")
	}
	tm := New(KindTsc)
	tm.Initialize()

	// Burn a little time so the interpolation window is non-trivial.
	ticks := tm.Ticks()
	for tm.Ticks()-ticks < 1000 {
	}

	freq := tm.ClockResolution()
	// Any plausible CPU runs between 100 MHz and 10 GHz.
	assert.Greater(t, freq, uint64(100_000_000))
	assert.Less(t, freq, uint64(10_000_000_000))

	// The interpolation is computed once and cached.
	assert.Equal(t, freq, tm.ClockResolution())
}

func TestCheckFrequenciesAverageAndThreshold(t *testing.T) {
	report := CheckFrequencies([]uint64{
		2_500_000_000,
		2_500_000_100,
		2_500_000_050,
		2_600_000_000,
	})
	// Overflow-safe streaming average truncates towards zero.
	assert.Equal(t, uint64(2_525_000_037), report.Average)
	assert.Equal(t, uint64(25_250), report.Threshold)
}

func TestCheckFrequenciesFlagsDeviantRank(t *testing.T) {
	report := CheckFrequencies([]uint64{
		2_500_000_000,
		2_500_000_100,
		2_500_000_050,
		2_500_090_000,
	})
	assert.Equal(t, uint64(2_500_022_537), report.Average)
	assert.Equal(t, uint64(25_000), report.Threshold)
	require.True(t, report.HasOutliers())
	assert.Equal(t, []int{3}, report.Outliers)
}

func TestCheckFrequenciesUniform(t *testing.T) {
	report := CheckFrequencies([]uint64{2_000_000_000, 2_000_000_000})
	assert.Equal(t, uint64(2_000_000_000), report.Average)
	assert.False(t, report.HasOutliers())
}

func TestCheckFrequenciesSlowClockFloor(t *testing.T) {
	// Threshold never drops below 10 Hz.
	report := CheckFrequencies([]uint64{100, 100, 100})
	assert.Equal(t, uint64(10), report.Threshold)
	assert.False(t, report.HasOutliers())
}

func TestCheckFrequenciesEmpty(t *testing.T) {
	report := CheckFrequencies(nil)
	assert.Zero(t, report.Average)
	assert.False(t, report.HasOutliers())
}
