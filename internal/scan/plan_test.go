package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetpointsLogSpacing(t *testing.T) {
	pts, err := Setpoints(ClassifierConfig{Start: 10, End: 1000, PerDecade: 10})
	require.NoError(t, err)

	require.Len(t, pts, 20)
	assert.InDelta(t, 10, pts[0], 1e-9)
	assert.InDelta(t, 1000, pts[len(pts)-1], 1e-6)
	for i := 1; i < len(pts); i++ {
		assert.Greater(t, pts[i], pts[i-1], "points must strictly increase")
	}
}

func TestSetpointsDownwardSweep(t *testing.T) {
	pts, err := Setpoints(ClassifierConfig{Start: 500, End: 20, PerDecade: 8})
	require.NoError(t, err)

	assert.InDelta(t, 500, pts[0], 1e-9)
	assert.InDelta(t, 20, pts[len(pts)-1], 1e-6)
	for i := 1; i < len(pts); i++ {
		assert.Less(t, pts[i], pts[i-1], "points must strictly decrease")
	}
}

func TestSetpointsValidation(t *testing.T) {
	for name, cfg := range map[string]ClassifierConfig{
		"zero start":         {Start: 0, End: 100, PerDecade: 10},
		"negative end":       {Start: 10, End: -5, PerDecade: 10},
		"equal bounds":       {Start: 50, End: 50, PerDecade: 10},
		"zero per-decade":    {Start: 10, End: 100, PerDecade: 0},
		"negative delay":     {Start: 10, End: 100, PerDecade: 10, Delay: -time.Second},
		"single-point range": {Start: 10, End: 11, PerDecade: 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Setpoints(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildPlanZipsEqualCounts(t *testing.T) {
	c1 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 10, Delay: time.Second}
	c2 := ClassifierConfig{Start: 0.1, End: 10, PerDecade: 10, Delay: 3 * time.Second}

	plan, err := BuildPlan(c1, c2)
	require.NoError(t, err)

	assert.Equal(t, 20, plan.Len())
	assert.Equal(t, 3*time.Second, plan.SettleDelay, "settle is the larger delay")
	for _, p := range plan.Pairs {
		assert.False(t, p.Bypass)
	}
}

func TestBuildPlanBypassBracketing(t *testing.T) {
	c1 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 10, BypassBefore: true, BypassAfter: true}
	c2 := ClassifierConfig{Start: 0.1, End: 10, PerDecade: 10, BypassBefore: true, BypassAfter: true}

	plan, err := BuildPlan(c1, c2)
	require.NoError(t, err)

	require.Equal(t, 22, plan.Len())
	first, last := plan.Pairs[0], plan.Pairs[plan.Len()-1]
	assert.True(t, first.Bypass)
	assert.True(t, last.Bypass)
	assert.Equal(t, plan.Pairs[1].Classifier1, first.Classifier1, "bypass entry mirrors first real setpoint")
	assert.Equal(t, plan.Pairs[plan.Len()-2].Classifier2, last.Classifier2, "bypass entry mirrors last real setpoint")
	for _, p := range plan.Pairs[1 : plan.Len()-1] {
		assert.False(t, p.Bypass)
	}
}

func TestBuildPlanCountMismatch(t *testing.T) {
	c1 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 10}
	c2 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 5}

	_, err := BuildPlan(c1, c2)
	require.ErrorIs(t, err, ErrPlanMismatch)
}

func TestBuildPlanBypassFlagMismatch(t *testing.T) {
	c1 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 10, BypassBefore: true}
	c2 := ClassifierConfig{Start: 10, End: 1000, PerDecade: 10}

	_, err := BuildPlan(c1, c2)
	require.ErrorIs(t, err, ErrPlanMismatch)
}

func TestCounterConfigValidate(t *testing.T) {
	assert.Error(t, CounterConfig{}.Validate())
	assert.Error(t, CounterConfig{Window: -time.Second}.Validate())
	assert.NoError(t, CounterConfig{Window: 10 * time.Second}.Validate())
}
