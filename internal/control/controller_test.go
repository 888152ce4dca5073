package control_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/clock"
	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/floor"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type command struct {
	fan, speed int
}

type fakeActuator struct {
	mu       sync.Mutex
	commands []command
	failFan  int
	closed   bool
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{failFan: -1}
}

func (a *fakeActuator) SetSpeed(fan, speed int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fan == a.failFan {
		return fmt.Errorf("write /dev/ttyUSB0: i/o timeout")
	}
	a.commands = append(a.commands, command{fan, speed})
	return nil
}

func (a *fakeActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeActuator) Commands() []command {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]command, len(a.commands))
	copy(out, a.commands)
	return out
}

type fakeTelemetry struct {
	mu        sync.Mutex
	snapshots []thermal.Snapshot
	errs      []error
	calls     int
}

func (f *fakeTelemetry) Snapshot(_ context.Context) (thermal.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return thermal.Snapshot{}, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	return thermal.Snapshot{}, nil
}

type recorder struct {
	reports []control.Report
}

func (r *recorder) Report(_ context.Context, rep control.Report) error {
	r.reports = append(r.reports, rep)
	return nil
}

type harness struct {
	ctl      *control.Controller
	actuator *fakeActuator
	clock    *clock.Fake
	floor    *floor.Floor
	logs     *bytes.Buffer
	cancel   context.CancelFunc
	ctx      context.Context
}

func allFansTopology() thermal.Topology {
	return thermal.Topology{FanCount: 6, Sensors: map[int][]int{1: {0, 1, 2, 3, 4, 5}}}
}

func newHarness(t *testing.T, telemetry control.TelemetrySource, stopAfter int, opts ...control.Option) *harness {
	t.Helper()

	cfg := control.DefaultConfig()
	cfg.Topology = allFansTopology()

	h := &harness{
		actuator: newFakeActuator(),
		clock:    clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		floor:    floor.New(20),
		logs:     &bytes.Buffer{},
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	t.Cleanup(h.cancel)

	h.clock.OnSleep = func(n int, _ time.Duration) {
		if n == stopAfter {
			h.cancel()
		}
	}

	dial := func() (control.FanActuator, error) { return h.actuator, nil }
	opts = append([]control.Option{
		control.WithClock(h.clock),
		control.WithLogger(logger.New(h.logs, logger.DebugLevel)),
	}, opts...)

	ctl, err := control.New(cfg, telemetry, dial, h.floor, opts...)
	require.NoError(t, err)
	h.ctl = ctl

	return h
}

func fanCommands(speed int) []command {
	out := make([]command, 6)
	for fan := range out {
		out[fan] = command{fan, speed}
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	telemetry := &fakeTelemetry{snapshots: []thermal.Snapshot{
		thermal.NewSnapshot(thermal.SensorReading{ID: 1, Current: 95, Warning: 100, Critical: 110}),
	}}
	rec := &recorder{}
	// sleeps: warmup, poll interval
	h := newHarness(t, telemetry, 2, control.WithReporters(rec))

	require.NoError(t, h.ctl.Run(h.ctx))

	want := append(append(fanCommands(100), fanCommands(80)...), fanCommands(20)...)
	assert.Equal(t, want, h.actuator.Commands())
	assert.Equal(t, []time.Duration{120 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.True(t, h.actuator.closed)
	assert.Equal(t, control.StateStopped, h.ctl.State())

	require.Len(t, rec.reports, 1)
	assert.Equal(t, map[int]int{0: 80, 1: 80, 2: 80, 3: 80, 4: 80, 5: 80}, rec.reports[0].Speeds)
	assert.Equal(t, thermal.Bounds{Min: 20, Max: 100}, rec.reports[0].Bounds)
}

func TestRunTelemetryFailures(t *testing.T) {
	telemetry := &fakeTelemetry{errs: []error{
		errors.New().Wrap(errors.ErrTelemetryUnavailable, fmt.Errorf("exit status 1")),
		fmt.Errorf("connection refused"),
	}}
	// sleeps: warmup, retry, retry
	h := newHarness(t, telemetry, 3)

	require.NoError(t, h.ctl.Run(h.ctx))

	want := append(fanCommands(100), fanCommands(20)...)
	assert.Equal(t, want, h.actuator.Commands(), "no commands between prewarm and shutdown")
	assert.Equal(t, []time.Duration{120 * time.Second, 10 * time.Second, 10 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 2, strings.Count(h.logs.String(), "Telemetry unavailable, skipping cycle"))
}

func TestRunEmptySnapshotIsFailure(t *testing.T) {
	h := newHarness(t, &fakeTelemetry{}, 2)

	require.NoError(t, h.ctl.Run(h.ctx))

	assert.Equal(t, []time.Duration{120 * time.Second, 10 * time.Second}, h.clock.Sleeps())
	assert.Contains(t, h.logs.String(), string(errors.ErrTelemetryUnavailable))
}

func TestShutdownUsesCurrentFloor(t *testing.T) {
	telemetry := &fakeTelemetry{snapshots: []thermal.Snapshot{
		thermal.NewSnapshot(thermal.SensorReading{ID: 1, Current: 95, Warning: 100, Critical: 110}),
	}}
	h := newHarness(t, telemetry, 2)
	h.clock.OnSleep = func(n int, _ time.Duration) {
		if n == 2 {
			// the adapter publishes a new floor while fans run at 80%
			h.floor.Store(30)
			h.cancel()
		}
	}

	require.NoError(t, h.ctl.Run(h.ctx))

	cmds := h.actuator.Commands()
	require.Len(t, cmds, 18)
	assert.Equal(t, fanCommands(30), cmds[12:])
	assert.Equal(t, map[int]int{0: 30, 1: 30, 2: 30, 3: 30, 4: 30, 5: 30}, h.ctl.LastCommands())
}

func TestShutdownDuringPrewarm(t *testing.T) {
	h := newHarness(t, &fakeTelemetry{}, 1)

	require.NoError(t, h.ctl.Run(h.ctx))

	want := append(fanCommands(100), fanCommands(20)...)
	assert.Equal(t, want, h.actuator.Commands())
}

func TestTransmitFailureDoesNotAbortCycle(t *testing.T) {
	telemetry := &fakeTelemetry{snapshots: []thermal.Snapshot{
		thermal.NewSnapshot(thermal.SensorReading{ID: 1, Current: 95, Warning: 100, Critical: 110}),
	}}
	h := newHarness(t, telemetry, 2)
	h.actuator.failFan = 2

	require.NoError(t, h.ctl.Run(h.ctx))

	// five fans per phase: prewarm, cycle, shutdown
	assert.Len(t, h.actuator.Commands(), 15)
	assert.Equal(t, 3, strings.Count(h.logs.String(), string(errors.ErrActuatorTransmit)))
	assert.Contains(t, h.logs.String(), `"fan":2`)
}

func TestRunActuatorUnreachable(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Topology = allFansTopology()
	dial := func() (control.FanActuator, error) {
		return nil, fmt.Errorf("open /dev/ttyUSB0: no such file or directory")
	}

	ctl, err := control.New(cfg, &fakeTelemetry{}, dial, floor.New(20),
		control.WithClock(clock.NewFake(time.Now())),
		control.WithLogger(logger.New(&bytes.Buffer{}, logger.DebugLevel)))
	require.NoError(t, err)

	err = ctl.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrActuatorUnreachable))
	assert.Equal(t, control.StateFaulted, ctl.State())
}

func TestCommandsNeverBelowFloor(t *testing.T) {
	telemetry := &fakeTelemetry{snapshots: []thermal.Snapshot{
		thermal.NewSnapshot(thermal.SensorReading{ID: 1, Current: 10, Warning: 100, Critical: 110}),
	}}
	h := newHarness(t, telemetry, 2)
	h.floor.Store(25)

	require.NoError(t, h.ctl.Run(h.ctx))

	for _, cmd := range h.actuator.Commands() {
		assert.GreaterOrEqual(t, cmd.speed, 25)
	}
}

func TestSelfTest(t *testing.T) {
	h := newHarness(t, &fakeTelemetry{}, 0)

	require.NoError(t, h.ctl.SelfTest(h.ctx))

	want := append(append(fanCommands(100), fanCommands(50)...), fanCommands(100)...)
	assert.Equal(t, want, h.actuator.Commands())
	assert.Equal(t, []time.Duration{90 * time.Second, 90 * time.Second, 90 * time.Second}, h.clock.Sleeps())
	assert.True(t, h.actuator.closed)
}

func TestSelfTestInterrupted(t *testing.T) {
	h := newHarness(t, &fakeTelemetry{}, 1)

	require.NoError(t, h.ctl.SelfTest(h.ctx))

	assert.Equal(t, fanCommands(100), h.actuator.Commands())
}

func TestNewValidatesConfig(t *testing.T) {
	dial := func() (control.FanActuator, error) { return newFakeActuator(), nil }

	cfg := control.DefaultConfig()
	cfg.Topology = allFansTopology()
	cfg.PollInterval = 0
	_, err := control.New(cfg, &fakeTelemetry{}, dial, floor.New(20))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))

	cfg = control.DefaultConfig()
	cfg.Topology = thermal.Topology{FanCount: 2, Sensors: map[int][]int{1: {4}}}
	_, err = control.New(cfg, &fakeTelemetry{}, dial, floor.New(20))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTopology))

	cfg = control.DefaultConfig()
	cfg.Topology = allFansTopology()
	cfg.Mode = "average"
	_, err = control.New(cfg, &fakeTelemetry{}, dial, floor.New(20))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidMode))
}
