package control

import (
	"sort"

	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

// SensorStatus is one sensor as seen by the cycle that produced a Report.
type SensorStatus struct {
	ID        int     `json:"id"`
	Current   float64 `json:"current"`
	Threshold float64 `json:"threshold"`
	Override  bool    `json:"override"`
	Mapped    bool    `json:"mapped"`
}

// Ratio is current over threshold, or zero without a threshold.
func (s SensorStatus) Ratio() float64 {
	if s.Threshold <= 0 {
		return 0
	}
	return s.Current / s.Threshold
}

// FanStatus is the speed commanded to one fan.
type FanStatus struct {
	Fan   int `json:"fan"`
	Speed int `json:"speed"`
}

// Sensors returns the readings with their resolved thresholds, in snapshot
// order.
func (r Report) Sensors() []SensorStatus {
	readings := r.Snapshot.Readings()
	out := make([]SensorStatus, 0, len(readings))
	for _, reading := range readings {
		threshold, override := thermal.ResolveThreshold(reading, r.Overrides, r.Mode)
		_, mapped := r.Topology.Sensors[reading.ID]
		out = append(out, SensorStatus{
			ID:        reading.ID,
			Current:   reading.Current,
			Threshold: threshold,
			Override:  override,
			Mapped:    mapped,
		})
	}
	return out
}

// Fans returns the commanded speeds ordered by fan.
func (r Report) Fans() []FanStatus {
	out := make([]FanStatus, 0, len(r.Speeds))
	for fan, speed := range r.Speeds {
		out = append(out, FanStatus{Fan: fan, Speed: speed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fan < out[j].Fan })
	return out
}
