package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictAdvancesPosition(t *testing.T) {
	pts := Predict(
		[3]float64{0, 0, 0}, [3]float64{10, 0, 0},
		[4]float64{1, 0, 0, 0},
		[3]float64{0, 0, 0},
		[3][3]float64{},
		1e-4,
		Params{Decay: 0, StepSeconds: 0.1, Steps: 10},
	)
	require.Len(t, pts, 10)
	last := pts[len(pts)-1]
	assert.InDelta(t, 10, last.Position[0], 1e-6)
}

func TestPredictVerticalVelocityCapped(t *testing.T) {
	pts := Predict(
		[3]float64{0, 0, 0}, [3]float64{0, 0, 0},
		[4]float64{1, 0, 0, 0},
		[3]float64{0, 0, 100},
		[3][3]float64{},
		1e-4,
		Params{Decay: 0, StepSeconds: 0.1, Steps: 50},
	)
	for _, p := range pts {
		assert.LessOrEqual(t, p.Velocity[2], 5.0)
		assert.GreaterOrEqual(t, p.Velocity[2], -5.0)
	}
}

func TestPredictDecayReducesDisplacement(t *testing.T) {
	withDecay := Predict([3]float64{0, 0, 0}, [3]float64{0, 0, 0}, [4]float64{1, 0, 0, 0},
		[3]float64{5, 0, 0}, [3][3]float64{}, 1e-4, Params{Decay: 0.3, StepSeconds: 0.1, Steps: 20})
	noDecay := Predict([3]float64{0, 0, 0}, [3]float64{0, 0, 0}, [4]float64{1, 0, 0, 0},
		[3]float64{5, 0, 0}, [3][3]float64{}, 1e-4, Params{Decay: 0, StepSeconds: 0.1, Steps: 20})

	assert.Less(t, withDecay[len(withDecay)-1].Position[0], noDecay[len(noDecay)-1].Position[0])
}
