package control

import (
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
)

const (
	defaultWarmup        = 120 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultRetryInterval = 10 * time.Second
	defaultSelfTestHold  = 90 * time.Second
)

// selfTestSpeeds is the sweep commanded to every fan in self-test mode.
var selfTestSpeeds = []int{100, 50, 100}

type Config struct {
	Topology      thermal.Topology
	Overrides     thermal.Overrides
	Mode          thermal.Mode
	Policy        thermal.Policy
	Warmup        time.Duration
	PollInterval  time.Duration
	RetryInterval time.Duration
	SelfTestHold  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:          thermal.ModeWarning,
		Policy:        thermal.Policy{Offset: 0.2},
		Warmup:        defaultWarmup,
		PollInterval:  defaultPollInterval,
		RetryInterval: defaultRetryInterval,
		SelfTestHold:  defaultSelfTestHold,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if err := c.Topology.Validate(); err != nil {
		return err
	}
	if _, err := thermal.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Policy.Offset < 0 || c.Policy.Offset >= 1 {
		return errFactory.WithData(errors.ErrInvalidOffset, c.Policy.Offset)
	}
	if c.Warmup < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Field string
			Value time.Duration
		}{"warmup", c.Warmup})
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":  c.PollInterval,
		"retry_interval": c.RetryInterval,
		"self_test_hold": c.SelfTestHold,
	} {
		if d <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, struct {
				Field string
				Value time.Duration
			}{name, d})
		}
	}

	return nil
}
