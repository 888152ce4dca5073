// Package actuator drives the fan controller board over a serial line.
//
// Each command is one JSON object per line, {"fan":<index>,"speed":<duty>},
// where duty is inverted: the board expects 100 - percent.
package actuator

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/clock"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"github.com/goburrow/serial"
)

const (
	DefaultDevice  = "/dev/ttyUSB0"
	DefaultBaud    = 115200
	DefaultTimeout = time.Second
	// The board resets when the port opens and ignores input until booted.
	DefaultSettle = 2 * time.Second

	maxDuty = 100
)

type Config struct {
	Device   string
	Baud     int
	Timeout  time.Duration
	Settle   time.Duration
	FanCount int
}

type command struct {
	Fan   int `json:"fan"`
	Speed int `json:"speed"`
}

// Board is a FanActuator bound to an open port.
type Board struct {
	mu       sync.Mutex
	port     io.ReadWriteCloser
	fanCount int
	closed   bool
	log      logger.Logger
}

type Option func(*options)

type options struct {
	clock clock.Clock
	log   logger.Logger
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.Real{}, log: logger.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens the serial device 8N1 and waits for the board to settle.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Board, error) {
	errFactory := errors.New()
	o := buildOptions(opts)

	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrActuatorUnreachable, errFactory.Wrap(ErrOpenFailed, err))
	}

	o.log.Info().
		Str("device", cfg.Device).
		Int("baud", cfg.Baud).
		Dur("settle", cfg.Settle).
		Msg("Connected to fan controller")

	if cfg.Settle > 0 {
		if err := o.clock.Sleep(ctx, cfg.Settle); err != nil {
			_ = port.Close()
			return nil, errFactory.Wrap(errors.ErrActuatorUnreachable, err)
		}
	}

	return New(port, cfg.FanCount, opts...), nil
}

// New wraps an already open port. A fanCount of zero disables the fan index
// check.
func New(port io.ReadWriteCloser, fanCount int, opts ...Option) *Board {
	o := buildOptions(opts)
	return &Board{
		port:     port,
		fanCount: fanCount,
		log:      o.log,
	}
}

// SetSpeed sends one command. speed is the percentage of full speed.
func (b *Board) SetSpeed(fan, speed int) error {
	errFactory := errors.New()

	if speed < 0 || speed > maxDuty {
		return errFactory.WithData(errors.ErrInvalidSpeed, speed)
	}
	if fan < 0 || (b.fanCount > 0 && fan >= b.fanCount) {
		return errFactory.WithData(ErrFanOutOfRange, fan)
	}

	line, err := json.Marshal(command{Fan: fan, Speed: maxDuty - speed})
	if err != nil {
		return errFactory.Wrap(errors.ErrActuatorTransmit, err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errFactory.Wrap(errors.ErrActuatorTransmit, errFactory.New(ErrClosed))
	}
	if _, err := b.port.Write(line); err != nil {
		return errFactory.Wrap(errors.ErrActuatorTransmit, errFactory.Wrap(ErrWriteFailed, err))
	}

	b.log.Debug().Int("fan", fan).Int("speed", speed).Msg("Fan command sent")
	return nil
}

// Close releases the port. Further commands fail.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.port.Close()
}
