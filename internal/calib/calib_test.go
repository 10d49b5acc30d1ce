package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartupCompletesAfterEnoughSamples(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for i := 0; i < 49; i++ {
		e.FeedStartupGyro([3]float64{0.01, 0, 0})
		done := e.FeedStartupAccel([3]float64{0, 0, 9.8})
		assert.False(t, done)
	}
	e.FeedStartupGyro([3]float64{0.01, 0, 0})
	done := e.FeedStartupAccel([3]float64{0, 0, 9.8})
	assert.True(t, done)
	assert.True(t, e.Complete())
	assert.InDelta(t, 9.8, e.Gravity()[2], 1e-9)
	assert.InDelta(t, 0.01, e.GyroBias()[0], 1e-9)
}

func TestRefineEMAMovesTowardNewMean(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for i := 0; i < 50; i++ {
		e.FeedStartupGyro([3]float64{0, 0, 0})
		e.FeedStartupAccel([3]float64{0, 0, 9.81})
	}
	var res RefineResult
	for i := 0; i < 30; i++ {
		res = e.FeedStationary([3]float64{0, 0, 9.91})
	}
	assert.True(t, res.Refined)
	assert.Greater(t, res.Estimate[2], 9.81)
	assert.Less(t, res.Estimate[2], 9.91)
}

func TestDriftWarningFiresOnce(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.SetBiases([3]float64{0, 0, 9.81}, [3]float64{0, 0, 0})

	// EMA with alpha 0.1 toward 11.0: drift first exceeds 0.5 on the sixth
	// refinement (~0.558) and keeps growing afterwards.
	warnings := 0
	for round := 0; round < 8; round++ {
		var res RefineResult
		for i := 0; i < 30; i++ {
			res = e.FeedStationary([3]float64{0, 0, 11.0})
		}
		if res.DriftWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}
