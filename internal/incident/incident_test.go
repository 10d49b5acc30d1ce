package incident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpactTakesPriority(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Detect(0, 25, 25, 50, nil, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, Impact, got.Kind)
}

func TestHardManeuverBelowImpact(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Detect(0, 5, 5, 0, nil, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, HardManeuver, got.Kind)
}

func TestSwervingHasOwnCooldown(t *testing.T) {
	d := NewDetector(DefaultConfig())
	first := d.Detect(0, 0, 0, 60, nil, nil, nil)
	require.NotNil(t, first)
	assert.Equal(t, Swerving, first.Kind)

	second := d.Detect(1, 0, 0, 60, nil, nil, nil)
	assert.Nil(t, second)

	third := d.Detect(6, 0, 0, 60, nil, nil, nil)
	require.NotNil(t, third)
}

func TestNoIncidentBelowThresholds(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Detect(0, 1, 1, 5, nil, nil, nil)
	assert.Nil(t, got)
}

func TestSharedCooldownGate(t *testing.T) {
	c := NewCooldown(1.0)
	assert.True(t, c.ReadyAndTouch(0))
	assert.False(t, c.ReadyAndTouch(0.5))
	assert.True(t, c.ReadyAndTouch(1.1))
}
