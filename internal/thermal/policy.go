package thermal

import (
	"math"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

// MaxSpeed is the fixed upper speed bound in percent.
const MaxSpeed = 100

// Bounds is the allowed fan speed range in percent.
type Bounds struct {
	Min int
	Max int
}

// NewBounds returns bounds with the given floor and MaxSpeed as ceiling.
func NewBounds(minSpeed int) (Bounds, error) {
	if minSpeed < 0 || minSpeed > MaxSpeed {
		return Bounds{}, errors.New().WithData(errors.ErrInvalidSpeed, minSpeed)
	}
	return Bounds{Min: minSpeed, Max: MaxSpeed}, nil
}

// Clamp limits speed to the bounds.
func (b Bounds) Clamp(speed int) int {
	if speed < b.Min {
		return b.Min
	}
	if speed > b.Max {
		return b.Max
	}
	return speed
}

// Policy maps a temperature to a required fan speed. Offset is the fraction
// below the base threshold where ramping starts, e.g. 0.2.
type Policy struct {
	Offset float64
}

// NewPolicy builds a policy from an offset given in percent.
func NewPolicy(offsetPercent int) (Policy, error) {
	if offsetPercent < 0 || offsetPercent >= 100 {
		return Policy{}, errors.New().WithData(errors.ErrInvalidOffset, offsetPercent)
	}
	return Policy{Offset: float64(offsetPercent) / 100}, nil
}

// SafetyThreshold returns the temperature below which the floor speed applies.
func (p Policy) SafetyThreshold(base float64) float64 {
	return base * (1 - p.Offset)
}

// RequiredSpeed returns the speed needed for current against base. Below the
// safety threshold it is bounds.Min, at or above base it is bounds.Max and in
// between it rises linearly, rounded down.
func (p Policy) RequiredSpeed(current, base float64, bounds Bounds) int {
	safety := p.SafetyThreshold(base)
	if current < safety {
		return bounds.Min
	}

	span := base - safety
	if span <= 0 || current >= base {
		return bounds.Max
	}

	ramp := math.Floor((current - safety) / span * float64(bounds.Max-bounds.Min))
	return bounds.Clamp(bounds.Min + int(ramp))
}
