package thermal

import (
	"sort"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

// Overrides replaces reported thresholds: sensor ID -> mode -> threshold.
type Overrides map[int]map[Mode]float64

// Topology maps each sensor to the fans it drives. Fan IDs are in
// [0, FanCount).
type Topology struct {
	FanCount int
	Sensors  map[int][]int
}

// Validate checks that every fan is physically addressable.
func (t Topology) Validate() error {
	errFactory := errors.New()
	if t.FanCount <= 0 {
		return errFactory.WithData(errors.ErrInvalidTopology, "fan count must be positive")
	}
	for sensor, fans := range t.Sensors {
		for _, fan := range fans {
			if fan < 0 || fan >= t.FanCount {
				return errFactory.WithData(errors.ErrInvalidTopology, struct {
					Sensor int
					Fan    int
				}{sensor, fan})
			}
		}
	}
	return nil
}

// Fans returns the sorted set of fans referenced by any sensor.
func (t Topology) Fans() []int {
	seen := make(map[int]struct{})
	for _, fans := range t.Sensors {
		for _, fan := range fans {
			seen[fan] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for fan := range seen {
		out = append(out, fan)
	}
	sort.Ints(out)
	return out
}

// AllFans returns every addressable fan, 0 through FanCount-1.
func (t Topology) AllFans() []int {
	out := make([]int, t.FanCount)
	for i := range out {
		out[i] = i
	}
	return out
}

// ResolveThreshold returns the base threshold for a reading and whether it
// came from an override.
func ResolveThreshold(r SensorReading, overrides Overrides, mode Mode) (float64, bool) {
	if byMode, ok := overrides[r.ID]; ok {
		if v, ok := byMode[mode]; ok {
			return v, true
		}
	}
	return r.Threshold(mode), false
}

// Aggregate computes the speed of every topology fan: the maximum required
// speed among the sensors mapped to it, or bounds.Min when none demands more.
// Sensors absent from the topology are ignored.
func Aggregate(s Snapshot, t Topology, overrides Overrides, mode Mode, p Policy, bounds Bounds) map[int]int {
	speeds := make(map[int]int)
	for _, fan := range t.Fans() {
		speeds[fan] = bounds.Min
	}

	for _, r := range s.readings {
		fans, ok := t.Sensors[r.ID]
		if !ok {
			continue
		}
		base, _ := ResolveThreshold(r, overrides, mode)
		required := p.RequiredSpeed(r.Current, base, bounds)
		for _, fan := range fans {
			if required > speeds[fan] {
				speeds[fan] = required
			}
		}
	}

	return speeds
}
