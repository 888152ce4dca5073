// Package floor keeps the minimum fan speed aligned with the outdoor
// temperature. A single Adapter writes the floor; control cycles read it.
package floor

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/clock"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
)

const (
	DefaultMinSpeed = 20
	DefaultPeriod   = 12 * time.Hour
)

// MinSpeedForAmbient maps an outdoor temperature in °C to a floor speed in
// percent.
func MinSpeedForAmbient(celsius float64) int {
	switch {
	case celsius > 15:
		return 30
	case celsius >= -3 && celsius <= 5:
		return 20
	case celsius < -3:
		return 10
	default:
		return 25
	}
}

// Floor is the published minimum speed.
type Floor struct {
	v atomic.Int32
}

// New returns a floor holding speed.
func New(speed int) *Floor {
	f := &Floor{}
	f.Store(speed)
	return f
}

// Load returns the current floor.
func (f *Floor) Load() int {
	return int(f.v.Load())
}

// Store publishes a new floor.
func (f *Floor) Store(speed int) {
	f.v.Store(int32(speed))
}

// AmbientSource returns the outdoor temperature in °C.
type AmbientSource interface {
	Temperature(ctx context.Context) (float64, error)
}

// Adapter periodically re-derives the floor from the ambient temperature.
type Adapter struct {
	source   AmbientSource
	floor    *Floor
	period   time.Duration
	fallback int
	clock    clock.Clock
	log      logger.Logger
}

type Option func(*Adapter)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithLogger replaces the global logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// NewAdapter creates an adapter publishing to floor every period. fallback is
// the floor used when the startup fetch fails.
func NewAdapter(source AmbientSource, floor *Floor, period time.Duration, fallback int, opts ...Option) (*Adapter, error) {
	errFactory := errors.New()
	if period <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, period)
	}
	if fallback < 0 || fallback > 100 {
		return nil, errFactory.WithData(errors.ErrInvalidSpeed, fallback)
	}

	a := &Adapter{
		source:   source,
		floor:    floor,
		period:   period,
		fallback: fallback,
		clock:    clock.Real{},
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init performs the synchronous startup fetch and publishes its result, or
// the fallback floor when the ambient temperature is unavailable.
func (a *Adapter) Init(ctx context.Context) int {
	speed, err := a.fetch(ctx)
	if err != nil {
		a.logFailure(err).
			Int("min_speed", a.fallback).
			Msg("Ambient temperature unavailable on startup, using default floor")
		speed = a.fallback
	}
	a.floor.Store(speed)
	return speed
}

// Run updates the floor every period until ctx is done. A failed fetch leaves
// the floor unchanged.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		if err := a.clock.Sleep(ctx, a.period); err != nil {
			return nil
		}

		speed, err := a.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logFailure(err).
				Int("min_speed", a.floor.Load()).
				Msg("Ambient update failed, floor unchanged")
			continue
		}

		a.floor.Store(speed)
	}
}

func (a *Adapter) fetch(ctx context.Context) (int, error) {
	celsius, err := a.source.Temperature(ctx)
	if err != nil {
		if errors.HasCode(err, errors.ErrAmbientUnavailable) {
			return 0, err
		}
		return 0, errors.New().Wrap(errors.ErrAmbientUnavailable, err)
	}

	speed := MinSpeedForAmbient(celsius)
	a.log.Info().
		Float64("ambient", celsius).
		Int("min_speed", speed).
		Msg("Minimum speed derived from ambient temperature")

	return speed, nil
}

func (a *Adapter) logFailure(err error) *logger.LogEvent {
	var coded errors.Error
	if errors.As(err, &coded) {
		return &logger.LogEvent{Event: a.log.ErrorWithCode(coded).Str("operation", "ambient_fetch")}
	}
	return &logger.LogEvent{Event: a.log.Error().Err(err).Str("operation", "ambient_fetch")}
}
