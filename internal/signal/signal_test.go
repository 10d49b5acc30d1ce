package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHannSingleValue(t *testing.T) {
	s := NewHannSmoother(9)
	assert.Equal(t, 5.0, s.Apply(5.0))
}

func TestHannTwoValues(t *testing.T) {
	s := NewHannSmoother(9)
	s.Apply(2.0)
	got := s.Apply(4.0)
	assert.InDelta(t, 3.0, got, 0.001)
}

func TestHannWindowAccumulation(t *testing.T) {
	s := NewHannSmoother(3)
	s.Apply(1.0)
	s.Apply(2.0)
	got := s.Apply(3.0)
	assert.Greater(t, got, 1.0)
	assert.Less(t, got, 3.0)
}

func TestHannWindowWrapping(t *testing.T) {
	s := NewHannSmoother(2)
	s.Apply(1.0)
	s.Apply(2.0)
	got := s.Apply(3.0)
	assert.Equal(t, 2, s.Len())
	assert.InDelta(t, 2.5, got, 0.001)
}

func TestHannWeightsCacheReused(t *testing.T) {
	s := NewHannSmoother(9)
	for i := 1; i <= 9; i++ {
		s.Apply(float64(i))
	}
	before := len(s.cache)
	for i := 10; i <= 20; i++ {
		s.Apply(float64(i))
	}
	assert.Equal(t, before, len(s.cache))
}

func TestLowPassFirstSampleIsPassthrough(t *testing.T) {
	lp := NewLowPass(0.2)
	got := lp.Apply([3]float64{1, 2, 3})
	assert.Equal(t, [3]float64{1, 2, 3}, got)
}

func TestLowPassConvergesToConstantInput(t *testing.T) {
	lp := NewLowPass(0.3)
	var got [3]float64
	for i := 0; i < 100; i++ {
		got = lp.Apply([3]float64{5, 0, 0})
	}
	assert.InDelta(t, 5, got[0], 1e-6)
}

func TestRoughnessRisesUnderVibration(t *testing.T) {
	r := NewRoughnessEstimator(0.2)
	for i := 0; i < 50; i++ {
		r.Update(9.81)
	}
	calm := r.Value()

	for i := 0; i < 50; i++ {
		mag := 9.81
		if i%2 == 0 {
			mag += 3
		} else {
			mag -= 3
		}
		r.Update(mag)
	}
	assert.Greater(t, r.Value(), calm)
}
