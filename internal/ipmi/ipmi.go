// Package ipmi reads chassis temperature sensors through ipmitool.
package ipmi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

const (
	DefaultCommand   = "ipmitool"
	DefaultInterface = "lanplus"
	DefaultTimeout   = 15 * time.Second
)

type Config struct {
	Command   string
	Interface string
	Host      string
	User      string
	Password  string
	Timeout   time.Duration
}

// Runner executes a command with extra environment variables and returns
// its standard output.
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

type Source struct {
	cfg Config
	run Runner
	log logger.Logger
}

type Option func(*Source)

func WithRunner(r Runner) Option {
	return func(s *Source) { s.run = r }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Source) { s.log = l }
}

// New returns a telemetry source for the management controller in cfg.
// An empty host queries the local BMC through the open interface.
func New(cfg Config, opts ...Option) (*Source, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Host != "" && cfg.Interface == "" {
		cfg.Interface = DefaultInterface
	}
	if cfg.Host == "" && cfg.User != "" {
		return nil, errors.New().WithMessage(ErrMissingHost, "ipmi user set without a host")
	}

	s := &Source{
		cfg: cfg,
		run: runCommand,
		log: logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Snapshot runs one `sensor list` query and returns the temperature
// readings it reports.
func (s *Source) Snapshot(ctx context.Context) (thermal.Snapshot, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := s.run(ctx, s.env(), s.cfg.Command, s.args()...)
	if err != nil {
		return thermal.Snapshot{}, errFactory.Wrap(errors.ErrTelemetryUnavailable,
			errFactory.Wrap(ErrCommandFailed, err))
	}

	readings := ParseSensorList(out)
	if len(readings) == 0 {
		return thermal.Snapshot{}, errFactory.Wrap(errors.ErrTelemetryUnavailable,
			errFactory.New(ErrNoSensors))
	}

	snap := thermal.NewSnapshot(readings...)
	s.log.Debug().
		Int("parsed", len(readings)).
		Int("valid", snap.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Read temperature sensors")

	return snap, nil
}

func (s *Source) args() []string {
	var args []string
	if s.cfg.Interface != "" {
		args = append(args, "-I", s.cfg.Interface)
	}
	if s.cfg.Host != "" {
		args = append(args, "-H", s.cfg.Host)
	}
	if s.cfg.User != "" {
		args = append(args, "-U", s.cfg.User)
	}
	if s.cfg.Password != "" {
		// -E reads the password from IPMI_PASSWORD, keeping it out of ps.
		args = append(args, "-E")
	}

	return append(args, "sensor", "list")
}

func (s *Source) env() []string {
	if s.cfg.Password == "" {
		return nil
	}
	return []string{"IPMI_PASSWORD=" + s.cfg.Password}
}

func runCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
