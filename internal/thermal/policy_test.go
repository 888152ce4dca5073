package thermal_test

import (
	"testing"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredSpeed(t *testing.T) {
	p := thermal.Policy{Offset: 0.2}
	bounds := thermal.Bounds{Min: 20, Max: 100}

	tests := []struct {
		name    string
		current float64
		base    float64
		want    int
	}{
		{name: "cold", current: 40, base: 100, want: 20},
		{name: "just below safety", current: 79.9, base: 100, want: 20},
		{name: "at safety", current: 80, base: 100, want: 20},
		{name: "midway", current: 90, base: 100, want: 60},
		{name: "example", current: 95, base: 100, want: 80},
		{name: "at threshold", current: 100, base: 100, want: 100},
		{name: "above threshold", current: 130, base: 100, want: 100},
		{name: "uneven threshold", current: 81, base: 81, want: 100},
		{name: "zero threshold", current: 30, base: 0, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.RequiredSpeed(tt.current, tt.base, bounds))
		})
	}
}

func TestRequiredSpeedZeroOffset(t *testing.T) {
	p := thermal.Policy{}
	bounds := thermal.Bounds{Min: 30, Max: 100}

	assert.Equal(t, 30, p.RequiredSpeed(99.9, 100, bounds))
	assert.Equal(t, 100, p.RequiredSpeed(100, 100, bounds))
}

func TestRequiredSpeedProperties(t *testing.T) {
	bases := []float64{45, 81, 85, 90, 100, 110}
	offsets := []float64{0.05, 0.1, 0.2, 0.35, 0.5}
	floors := []int{0, 10, 20, 25, 30}

	for _, base := range bases {
		for _, offset := range offsets {
			for _, floor := range floors {
				p := thermal.Policy{Offset: offset}
				bounds := thermal.Bounds{Min: floor, Max: thermal.MaxSpeed}
				safety := p.SafetyThreshold(base)

				prev := -1
				for current := 0.0; current <= base*1.5; current += 0.25 {
					got := p.RequiredSpeed(current, base, bounds)

					require.GreaterOrEqual(t, got, bounds.Min)
					require.LessOrEqual(t, got, bounds.Max)
					require.GreaterOrEqual(t, got, prev, "not monotonic at %v (base %v)", current, base)
					if current < safety {
						require.Equal(t, bounds.Min, got)
					}
					if current >= base {
						require.Equal(t, bounds.Max, got)
					}
					prev = got
				}
			}
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := thermal.NewPolicy(20)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, p.SafetyThreshold(100), 1e-9)

	_, err = thermal.NewPolicy(100)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidOffset))

	_, err = thermal.NewPolicy(-1)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidOffset))
}

func TestBounds(t *testing.T) {
	b, err := thermal.NewBounds(25)
	require.NoError(t, err)
	assert.Equal(t, thermal.Bounds{Min: 25, Max: 100}, b)
	assert.Equal(t, 25, b.Clamp(0))
	assert.Equal(t, 100, b.Clamp(140))
	assert.Equal(t, 60, b.Clamp(60))

	_, err = thermal.NewBounds(101)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidSpeed))
}
