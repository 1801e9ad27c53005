package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRow(ma5, ma10, ma20, ma60, volMA5 float64) IndicatorRow {
	return IndicatorRow{
		MA5:    MAValue{Value: ma5, Valid: true},
		MA10:   MAValue{Value: ma10, Valid: true},
		MA20:   MAValue{Value: ma20, Valid: true},
		MA60:   MAValue{Value: ma60, Valid: true},
		VolMA5: MAValue{Value: volMA5, Valid: true},
	}
}

func TestCriteriaValidate(t *testing.T) {
	assert.NoError(t, Criteria{ConvergenceThresholdPercent: 3, VolumeFloorShares: 2000000}.Validate())
	assert.Error(t, Criteria{ConvergenceThresholdPercent: 0, VolumeFloorShares: 1}.Validate())
	assert.Error(t, Criteria{ConvergenceThresholdPercent: -1, VolumeFloorShares: 1}.Validate())
	assert.Error(t, Criteria{ConvergenceThresholdPercent: 101, VolumeFloorShares: 1}.Validate())
	assert.Error(t, Criteria{ConvergenceThresholdPercent: 3, VolumeFloorShares: 0}.Validate())
	assert.NoError(t, Criteria{ConvergenceThresholdPercent: 100, VolumeFloorShares: 1}.Validate())
}

func TestEvaluateMatch(t *testing.T) {
	curr := validRow(110, 109, 107, 100, 2500000)
	prev := validRow(109, 108, 106, 100, 2400000)
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 2000000}

	ev := Evaluate(curr, prev, c)

	assert.True(t, ev.VolumeOK)
	assert.True(t, ev.AlignmentOK)
	assert.True(t, ev.ConvergenceOK)
	assert.True(t, ev.Match)
	// (109 - 106) / 106
	assert.InDelta(t, 0.0283019, ev.Gap, 1e-6)
}

func TestEvaluateVolumeFailureStillReportsGap(t *testing.T) {
	curr := validRow(110, 109, 107, 100, 1000000)
	prev := validRow(109, 108, 106, 100, 1000000)
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 2000000}

	ev := Evaluate(curr, prev, c)

	assert.False(t, ev.VolumeOK)
	assert.True(t, ev.AlignmentOK)
	assert.True(t, ev.ConvergenceOK)
	assert.False(t, ev.Match)
	assert.InDelta(t, 0.0283019, ev.Gap, 1e-6)
}

func TestEvaluateAlignmentMustBeStrict(t *testing.T) {
	c := Criteria{ConvergenceThresholdPercent: 5.0, VolumeFloorShares: 1}
	prev := validRow(100, 100, 100, 95, 1000)

	// Equal adjacent averages do not count as aligned.
	curr := validRow(105, 105, 103, 100, 1000)
	ev := Evaluate(curr, prev, c)
	assert.False(t, ev.AlignmentOK)
	assert.False(t, ev.Match)

	curr = validRow(106, 105, 103, 100, 1000)
	ev = Evaluate(curr, prev, c)
	assert.True(t, ev.AlignmentOK)
	assert.True(t, ev.Match)
}

func TestEvaluateConvergenceBoundaryInclusive(t *testing.T) {
	curr := validRow(110, 109, 107, 100, 5000000)
	// Gap is exactly (103 - 100) / 100 = 3%.
	prev := validRow(103, 101, 100, 100, 5000000)
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 1}

	ev := Evaluate(curr, prev, c)

	assert.InDelta(t, 0.03, ev.Gap, 1e-12)
	assert.True(t, ev.ConvergenceOK)
	assert.True(t, ev.Match)
}

func TestEvaluateZeroGap(t *testing.T) {
	curr := validRow(110, 109, 107, 100, 5000000)
	prev := validRow(100, 100, 100, 100, 5000000)
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 1}

	ev := Evaluate(curr, prev, c)

	assert.Zero(t, ev.Gap)
	assert.True(t, ev.ConvergenceOK)
	assert.True(t, ev.Match)
}

func TestEvaluateNonPositiveMinimum(t *testing.T) {
	curr := validRow(110, 109, 107, 100, 5000000)
	prev := validRow(1, 0.5, -2, 100, 5000000)
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 1}

	ev := Evaluate(curr, prev, c)

	assert.False(t, ev.ConvergenceOK)
	assert.False(t, ev.Match)
	assert.Zero(t, ev.Gap)
}

func TestEvaluateInvalidRowsNeverMatch(t *testing.T) {
	c := Criteria{ConvergenceThresholdPercent: 3.0, VolumeFloorShares: 1}
	good := validRow(110, 109, 107, 100, 5000000)

	missing60 := good
	missing60.MA60 = MAValue{}
	ev := Evaluate(missing60, good, c)
	require.False(t, ev.Match)
	assert.False(t, ev.VolumeOK)
	assert.False(t, ev.AlignmentOK)

	prevMissing := good
	prevMissing.MA20 = MAValue{}
	ev = Evaluate(good, prevMissing, c)
	assert.False(t, ev.Match)
}
