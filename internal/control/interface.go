package control

import (
	"context"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

// TelemetrySource produces one temperature snapshot per call.
type TelemetrySource interface {
	Snapshot(ctx context.Context) (thermal.Snapshot, error)
}

// FanActuator transmits fan commands. Speed is in percent, higher is more
// cooling.
type FanActuator interface {
	SetSpeed(fan, speed int) error
	Close() error
}

// Dialer establishes the actuator connection.
type Dialer func() (FanActuator, error)

// FloorReader exposes the current minimum speed.
type FloorReader interface {
	Load() int
}

// Reporter receives the outcome of every successful cycle. Each Report owns a
// fresh Speeds map that is never written after delivery.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Report is the read-only result of one control cycle.
type Report struct {
	Time      time.Time
	Snapshot  thermal.Snapshot
	Speeds    map[int]int
	Bounds    thermal.Bounds
	Mode      thermal.Mode
	Overrides thermal.Overrides
	Topology  thermal.Topology
}

// State is the control loop state.
type State int32

const (
	StateIdle State = iota
	StatePrewarm
	StateSteady
	StateShuttingDown
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StatePrewarm:
		return "prewarm"
	case StateSteady:
		return "steady"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "idle"
	}
}
