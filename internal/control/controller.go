// Package control runs the thermal control loop: a prewarm at full speed,
// then repeated cycles of telemetry, aggregation and fan commands, and a
// fail-safe command to the floor speed on shutdown.
package control

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/ipmifanctl/internal/clock"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

type Controller struct {
	cfg       Config
	telemetry TelemetrySource
	dial      Dialer
	floor     FloorReader
	reporters []Reporter
	clock     clock.Clock
	log       logger.Logger

	state    atomic.Int32
	actuator FanActuator

	mu       sync.RWMutex
	lastSent map[int]int
}

type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger replaces the global logger.
func WithLogger(l logger.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// WithReporters adds receivers for cycle reports.
func WithReporters(r ...Reporter) Option {
	return func(ctl *Controller) { ctl.reporters = append(ctl.reporters, r...) }
}

func New(cfg Config, telemetry TelemetrySource, dial Dialer, floor FloorReader, opts ...Option) (*Controller, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if telemetry == nil || dial == nil || floor == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "telemetry, dialer and floor are required")
	}

	c := &Controller{
		cfg:       cfg,
		telemetry: telemetry,
		dial:      dial,
		floor:     floor,
		clock:     clock.Real{},
		log:       logger.Default(),
		lastSent:  make(map[int]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// LastCommands returns the last speed sent to each fan.
func (c *Controller) LastCommands() map[int]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int]int, len(c.lastSent))
	for fan, speed := range c.lastSent {
		out[fan] = speed
	}
	return out
}

// Run connects the actuator, prewarms, and runs control cycles until ctx is
// done, then commands every fan to the floor speed. It only fails when the
// actuator cannot be reached.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.disconnect()

	if c.prewarm(ctx) {
		c.steady(ctx)
	}
	c.shutdown()

	return nil
}

// SelfTest sweeps every fan through a fixed speed sequence without reading
// telemetry.
func (c *Controller) SelfTest(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.disconnect()

	c.log.Info().Ints("speeds", selfTestSpeeds).Msg("Starting self-test")
	for _, speed := range selfTestSpeeds {
		c.log.Info().Int("speed", speed).Msg("Setting all fans")
		c.commandAll(speed, c.bounds())
		if err := c.clock.Sleep(ctx, c.cfg.SelfTestHold); err != nil {
			c.log.Warn().Msg("Self-test interrupted")
			break
		}
	}
	c.log.Info().Msg("Self-test completed")

	return nil
}

// Cycle runs one control cycle. It returns a telemetry_unavailable error when
// no snapshot could be obtained; fans are then left untouched.
func (c *Controller) Cycle(ctx context.Context) error {
	errFactory := errors.New()

	snap, err := c.telemetry.Snapshot(ctx)
	if err == nil && snap.IsEmpty() {
		err = errFactory.WithMessage(errors.ErrTelemetryUnavailable, "no temperature data received")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		coded := asCoded(err, errors.ErrTelemetryUnavailable)
		c.log.ErrorWithCode(coded).
			Str("operation", "telemetry_fetch").
			Dur("retry_in", c.cfg.RetryInterval).
			Msg("Telemetry unavailable, skipping cycle")
		return coded
	}

	bounds := c.bounds()
	speeds := thermal.Aggregate(snap, c.cfg.Topology, c.cfg.Overrides, c.cfg.Mode, c.cfg.Policy, bounds)
	for _, fan := range sortedFans(speeds) {
		c.command(fan, speeds[fan], bounds)
	}

	c.log.Debug().
		Int("sensors", snap.Len()).
		Int("min_speed", bounds.Min).
		Interface("speeds", speeds).
		Msg("Control cycle complete")

	c.report(ctx, Report{
		Time:      c.clock.Now(),
		Snapshot:  snap,
		Speeds:    speeds,
		Bounds:    bounds,
		Mode:      c.cfg.Mode,
		Overrides: c.cfg.Overrides,
		Topology:  c.cfg.Topology,
	})

	return nil
}

func (c *Controller) connect() error {
	act, err := c.dial()
	if err != nil {
		c.setState(StateFaulted)
		coded := asCoded(err, errors.ErrActuatorUnreachable)
		c.log.ErrorWithCode(coded).Str("operation", "actuator_connect").Msg("Cannot connect to fan actuator")
		return coded
	}
	c.actuator = act
	return nil
}

func (c *Controller) disconnect() {
	if err := c.actuator.Close(); err != nil {
		c.log.Warn().Err(err).Str("operation", "actuator_close").Msg("Failed to close fan actuator")
	}
}

func (c *Controller) prewarm(ctx context.Context) bool {
	c.setState(StatePrewarm)
	c.log.Info().
		Dur("warmup", c.cfg.Warmup).
		Msg("Setting all fans to maximum speed")

	c.commandAll(thermal.MaxSpeed, c.bounds())
	if err := c.clock.Sleep(ctx, c.cfg.Warmup); err != nil {
		return false
	}

	bounds := c.bounds()
	c.log.Info().Int("min_speed", bounds.Min).Int("max_speed", bounds.Max).Msg("Speed range")
	return true
}

func (c *Controller) steady(ctx context.Context) {
	c.setState(StateSteady)
	for {
		wait := c.cfg.PollInterval
		if err := c.Cycle(ctx); err != nil {
			wait = c.cfg.RetryInterval
		}
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.setState(StateShuttingDown)
	bounds := c.bounds()
	c.log.Info().Int("min_speed", bounds.Min).Msg("Resetting fans to minimum speed")

	c.commandAll(bounds.Min, bounds)
	c.setState(StateStopped)
	c.log.Info().Msg("Fan control stopped")
}

func (c *Controller) commandAll(speed int, bounds thermal.Bounds) {
	for _, fan := range c.cfg.Topology.AllFans() {
		c.command(fan, speed, bounds)
	}
}

// command clamps speed to bounds before it reaches the actuator. Transmit
// failures are logged and left to the next cycle.
func (c *Controller) command(fan, speed int, bounds thermal.Bounds) {
	speed = bounds.Clamp(speed)
	if err := c.actuator.SetSpeed(fan, speed); err != nil {
		c.log.ErrorWithCode(asCoded(err, errors.ErrActuatorTransmit)).
			Int("fan", fan).
			Int("speed", speed).
			Str("operation", "fan_command").
			Msg("Failed to send fan command")
		return
	}

	c.mu.Lock()
	c.lastSent[fan] = speed
	c.mu.Unlock()
}

func (c *Controller) report(ctx context.Context, r Report) {
	for _, rep := range c.reporters {
		if err := rep.Report(ctx, r); err != nil {
			c.log.ErrorWithCode(asCoded(err, errors.ErrReportFailed)).
				Str("operation", "report").
				Msg("Failed to report control cycle")
		}
	}
}

func (c *Controller) bounds() thermal.Bounds {
	return thermal.Bounds{Min: c.floor.Load(), Max: thermal.MaxSpeed}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// asCoded returns err as a coded error, wrapping it in code unless it
// already carries that code.
func asCoded(err error, code errors.ErrorCode) errors.Error {
	var coded errors.Error
	if errors.As(err, &coded) && errors.HasCode(err, code) {
		return coded
	}
	return errors.New().Wrap(code, err)
}

func sortedFans(speeds map[int]int) []int {
	fans := make([]int, 0, len(speeds))
	for fan := range speeds {
		fans = append(fans, fan)
	}
	sort.Ints(fans)
	return fans
}
