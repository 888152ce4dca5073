package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/control"
)

// Collector stores control cycle reports.
type Collector interface {
	Report(ctx context.Context, r control.Report) error
	Close() error
}

// Repository persists cycle records.
type Repository interface {
	Record(rec *CycleRecord) error
	Close() error
}

// CycleRecord is one control cycle as stored in the history database.
type CycleRecord struct {
	Timestamp time.Time
	Mode      string
	MinSpeed  int
	Sensors   []SensorSample
	Fans      []FanSample
}

type SensorSample struct {
	Sensor    int
	Current   float64
	Threshold float64
	Override  bool
}

type FanSample struct {
	Fan   int
	Speed int
}
