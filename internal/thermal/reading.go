// Package thermal holds the temperature data model and the pure speed
// computations of the controller: the per-sensor speed policy and the
// sensor to fan aggregation.
package thermal

import (
	"strings"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

// Mode selects which of a sensor's thresholds is used as the base threshold.
type Mode string

const (
	ModeWarning  Mode = "warning"
	ModeCritical Mode = "critical"
)

// ParseMode validates a configured mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(name)) {
	case ModeWarning:
		return ModeWarning, nil
	case ModeCritical:
		return ModeCritical, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidMode, name)
	}
}

// Short returns the abbreviation used in status output.
func (m Mode) Short() string {
	if m == ModeCritical {
		return "CRIT"
	}
	return "WARN"
}

// SensorReading is one sensor's temperatures in degrees Celsius.
type SensorReading struct {
	ID       int     `json:"id"`
	Current  float64 `json:"current"`
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Threshold returns the reading's own threshold for mode.
func (r SensorReading) Threshold(mode Mode) float64 {
	if mode == ModeCritical {
		return r.Critical
	}
	return r.Warning
}

// Valid reports whether the reading may be placed in a snapshot: all values
// non-negative and at least one threshold present.
func (r SensorReading) Valid() bool {
	if r.Current < 0 || r.Warning < 0 || r.Critical < 0 {
		return false
	}
	return r.Warning > 0 || r.Critical > 0
}

// Snapshot is the immutable set of readings of one poll, in telemetry order.
// The zero value is an empty snapshot, meaning telemetry was unavailable.
type Snapshot struct {
	readings []SensorReading
	index    map[int]int
}

// NewSnapshot builds a snapshot, dropping invalid readings. A repeated sensor
// ID keeps its first position and takes the latest values.
func NewSnapshot(readings ...SensorReading) Snapshot {
	s := Snapshot{index: make(map[int]int, len(readings))}
	for _, r := range readings {
		if !r.Valid() {
			continue
		}
		if i, ok := s.index[r.ID]; ok {
			s.readings[i] = r
			continue
		}
		s.index[r.ID] = len(s.readings)
		s.readings = append(s.readings, r)
	}
	return s
}

// Len returns the number of readings.
func (s Snapshot) Len() int {
	return len(s.readings)
}

// IsEmpty reports whether the snapshot holds no readings.
func (s Snapshot) IsEmpty() bool {
	return len(s.readings) == 0
}

// Get returns the reading for a sensor.
func (s Snapshot) Get(id int) (SensorReading, bool) {
	i, ok := s.index[id]
	if !ok {
		return SensorReading{}, false
	}
	return s.readings[i], true
}

// Readings returns a copy of the readings in telemetry order.
func (s Snapshot) Readings() []SensorReading {
	out := make([]SensorReading, len(s.readings))
	copy(out, s.readings)
	return out
}
