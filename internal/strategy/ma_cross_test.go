package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
)

func TestMACrossGoldenThenDeathCross(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMACross(Params{"fast_period": 2, "slow_period": 3}, rec, testLogger())

	// Flat warmup, a pop that lifts the fast average through the slow,
	// then a drop that pulls it back under.
	feed(t, s, "600036.SH", "10", "10", "10", "12", "12", "8")

	sigs := rec.all()
	require.Len(t, sigs, 2)

	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
	assert.Equal(t, 1.0, sigs[0].Strength)
	assert.Equal(t, "11.0000", sigs[0].Meta["fast_ma"])

	assert.Equal(t, core.SignalSell, sigs[1].Kind)
	assert.Equal(t, 1.0, sigs[1].Strength)
}

func TestMACrossSilentWhileWarming(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMACross(Params{"fast_period": 2, "slow_period": 3}, rec, testLogger())
	feed(t, s, "600036.SH", "10", "12")
	assert.Empty(t, rec.all())
}

func TestMACrossNoRepeatWithoutRecross(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMACross(Params{"fast_period": 2, "slow_period": 3}, rec, testLogger())

	// After the golden cross the fast average stays above the slow one;
	// no further signal may fire.
	feed(t, s, "600036.SH", "10", "10", "10", "12", "13", "14", "15")

	sigs := rec.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
}

func TestMACrossRejectsInvertedPeriods(t *testing.T) {
	s := NewMACross(Params{"fast_period": 30, "slow_period": 5}, &signalRecorder{}, testLogger())
	assert.Equal(t, 5, s.fastPeriod)
	assert.Equal(t, 20, s.slowPeriod)
}

func TestMACrossTracksSymbolsIndependently(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMACross(Params{"fast_period": 2, "slow_period": 3}, rec, testLogger())

	feed(t, s, "600036.SH", "10", "10", "10", "12")
	feed(t, s, "510300.SH", "20", "20", "20")

	sigs := rec.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, "600036.SH", sigs[0].Symbol)
}
