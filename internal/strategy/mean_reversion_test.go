package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_trader/internal/core"
)

func TestMeanReversionBuysStretchBelowMean(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMeanReversion(Params{"period": 4, "threshold_pct": 0.05}, rec, testLogger())

	// Drop to 90 stretches 7.69% under the 4-bar mean of 97.5.
	feed(t, s, "600036.SH", "100", "100", "100", "100", "90")

	sigs := rec.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
	assert.InDelta(t, 0.7692, sigs[0].Strength, 1e-3)
	assert.Equal(t, "97.5000", sigs[0].Meta["mean"])
}

func TestMeanReversionSellsStretchAboveMean(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMeanReversion(Params{"period": 4, "threshold_pct": 0.05}, rec, testLogger())

	feed(t, s, "600036.SH", "100", "100", "100", "100", "110")

	sigs := rec.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, core.SignalSell, sigs[0].Kind)
	assert.InDelta(t, 0.7317, sigs[0].Strength, 1e-3)
}

func TestMeanReversionLatchesUntilBackInsideBand(t *testing.T) {
	rec := &signalRecorder{}
	s := NewMeanReversion(Params{"period": 4, "threshold_pct": 0.05}, rec, testLogger())

	// 90 fires, the second 90 is still stretched but latched, 95 pulls
	// the close back inside the band, 85 stretches again and re-fires.
	feed(t, s, "600036.SH", "100", "100", "100", "100", "90", "90", "95", "85")

	sigs := rec.all()
	require.Len(t, sigs, 2)
	assert.Equal(t, core.SignalBuy, sigs[0].Kind)
	assert.Equal(t, core.SignalBuy, sigs[1].Kind)
	assert.InDelta(t, 0.5556, sigs[1].Strength, 1e-3)
}

func TestStrengthFromStretch(t *testing.T) {
	assert.InDelta(t, 0.5, strengthFromStretch(dec("0.05"), dec("0.05")), 1e-9)
	assert.InDelta(t, 0.75, strengthFromStretch(dec("0.075"), dec("0.05")), 1e-9)
	assert.InDelta(t, 1.0, strengthFromStretch(dec("0.10"), dec("0.05")), 1e-9)
	assert.InDelta(t, 1.0, strengthFromStretch(dec("0.30"), dec("0.05")), 1e-9)
}
