// Package topology holds the chassis sensor-to-fan map and loads
// replacements from YAML.
package topology

import (
	"fmt"
	"os"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
	"gopkg.in/yaml.v3"
)

const DefaultFanCount = 6

var (
	allFans   = []int{0, 1, 2, 3, 4, 5}
	outerFans = []int{0, 5}
	innerFans = []int{1, 2, 3, 4}
	leftFans  = []int{1, 2}
	rightFans = []int{3, 4}
)

// Default returns the sensor map of the six-fan chassis.
func Default() thermal.Topology {
	return thermal.Topology{
		FanCount: DefaultFanCount,
		Sensors: map[int][]int{
			1: allFans, 2: leftFans, 3: rightFans,
			4: leftFans, 5: leftFans, 6: rightFans, 7: rightFans,
			8: allFans, 9: outerFans, 10: innerFans,
			11: outerFans, 12: allFans, 16: outerFans,
			17: outerFans, 18: outerFans, 19: outerFans, 20: outerFans,
			21: innerFans, 22: innerFans, 23: outerFans,
			24: outerFans, 25: outerFans, 26: outerFans, 28: outerFans,
			29: {0, 1, 2},
			30: allFans,
		},
	}
}

// DefaultOverrides replaces thresholds the BMC reports too low for the
// chipset (29) and the inlet-side sensor (30).
func DefaultOverrides() thermal.Overrides {
	return thermal.Overrides{
		30: {thermal.ModeWarning: 100, thermal.ModeCritical: 110},
		29: {thermal.ModeWarning: 81, thermal.ModeCritical: 85},
	}
}

type file struct {
	FanCount  int                        `yaml:"fan_count"`
	Sensors   map[int][]int              `yaml:"sensors"`
	Overrides map[int]map[string]float64 `yaml:"overrides"`
}

// Load reads a topology file. A file without fan_count uses fanCount.
func Load(path string, fanCount int) (thermal.Topology, thermal.Overrides, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return thermal.Topology{}, nil, errFactory.Wrap(errors.ErrInvalidTopology, err)
	}

	return Parse(data, fanCount)
}

// Parse decodes a topology document.
func Parse(data []byte, fanCount int) (thermal.Topology, thermal.Overrides, error) {
	errFactory := errors.New()

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return thermal.Topology{}, nil, errFactory.Wrap(errors.ErrInvalidTopology, err)
	}
	if len(f.Sensors) == 0 {
		return thermal.Topology{}, nil, errFactory.WithMessage(errors.ErrInvalidTopology, "no sensors defined")
	}
	if f.FanCount == 0 {
		f.FanCount = fanCount
	}

	t := thermal.Topology{FanCount: f.FanCount, Sensors: f.Sensors}
	if err := t.Validate(); err != nil {
		return thermal.Topology{}, nil, err
	}

	overrides := make(thermal.Overrides, len(f.Overrides))
	for sensor, byMode := range f.Overrides {
		overrides[sensor] = make(map[thermal.Mode]float64, len(byMode))
		for name, threshold := range byMode {
			mode, err := thermal.ParseMode(name)
			if err != nil {
				return thermal.Topology{}, nil, err
			}
			if threshold <= 0 {
				return thermal.Topology{}, nil, errFactory.WithData(errors.ErrInvalidTopology,
					fmt.Sprintf("sensor %d %s threshold %v", sensor, mode, threshold))
			}
			overrides[sensor][mode] = threshold
		}
	}

	return t, overrides, nil
}
