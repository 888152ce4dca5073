package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/actuator"
	"codeberg.org/mutker/ipmifanctl/internal/ambient"
	"codeberg.org/mutker/ipmifanctl/internal/config"
	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/dashboard"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/floor"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"codeberg.org/mutker/ipmifanctl/internal/pid"
	"codeberg.org/mutker/ipmifanctl/internal/publish"
	"codeberg.org/mutker/ipmifanctl/internal/status"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
	"codeberg.org/mutker/ipmifanctl/internal/topology"
	"github.com/oklog/run"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := runService(cfg); err != nil {
		logger.FatalWithCode(coded(err)).Msg("Fan control failed")
	}
}

func runService(cfg *config.Config) error {
	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = pid.DefaultPath()
	}
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctlCfg, err := controlConfig(cfg)
	if err != nil {
		return err
	}

	weather := ambient.New(ambient.Config{
		URL:       cfg.Ambient.URL,
		City:      cfg.Ambient.City,
		Locate:    cfg.Ambient.Locate,
		LocateURL: cfg.Ambient.LocateURL,
		Timeout:   seconds(cfg.Ambient.Timeout),
	})
	weather.Locate(ctx)

	minSpeed := floor.New(cfg.DefaultMinSpeed)
	adapter, err := floor.NewAdapter(weather, minSpeed, seconds(cfg.AmbientInterval), cfg.DefaultMinSpeed)
	if err != nil {
		return err
	}
	adapter.Init(ctx)

	source, err := ipmi.New(ipmi.Config{
		Command:   cfg.IPMI.Command,
		Interface: cfg.IPMI.Interface,
		Host:      cfg.IPMI.Host,
		User:      cfg.IPMI.User,
		Password:  cfg.IPMI.Password,
		Timeout:   seconds(cfg.IPMI.Timeout),
	})
	if err != nil {
		return err
	}

	dial := func() (control.FanActuator, error) {
		return actuator.Open(ctx, actuator.Config{
			Device:   cfg.Serial.Device,
			Baud:     cfg.Serial.Baud,
			Timeout:  time.Duration(cfg.Serial.TimeoutMS) * time.Millisecond,
			Settle:   time.Duration(cfg.Serial.SettleMS) * time.Millisecond,
			FanCount: cfg.FanCount,
		})
	}

	var controller *control.Controller
	state := func() control.State {
		if controller == nil {
			return control.StateIdle
		}
		return controller.State()
	}

	reporters, closers, srv := buildReporters(cfg, weather, state)
	defer closeAll(closers)

	controller, err = control.New(ctlCfg, source, dial, minSpeed, control.WithReporters(reporters...))
	if err != nil {
		return err
	}

	if cfg.Test {
		return selfTest(ctx, controller)
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return controller.Run(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		return adapter.Run(ctx)
	}, func(error) {
		cancel()
	})
	if srv != nil {
		g.Add(func() error {
			return srv.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	logger.Info().
		Str("mode", string(ctlCfg.Mode)).
		Int("offset", cfg.Offset).
		Int("min_speed", minSpeed.Load()).
		Int("fans", ctlCfg.Topology.FanCount).
		Msg("Starting fan control")

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("Received termination signal")
		return nil
	}
	return err
}

func controlConfig(cfg *config.Config) (control.Config, error) {
	mode, err := thermal.ParseMode(cfg.Mode)
	if err != nil {
		return control.Config{}, err
	}
	policy, err := thermal.NewPolicy(cfg.Offset)
	if err != nil {
		return control.Config{}, err
	}

	topo, overrides := topology.Default(), topology.DefaultOverrides()
	topo.FanCount = cfg.FanCount
	if cfg.TopologyFile != "" {
		topo, overrides, err = topology.Load(cfg.TopologyFile, cfg.FanCount)
		if err != nil {
			return control.Config{}, err
		}
		logger.Info().Str("path", cfg.TopologyFile).Int("sensors", len(topo.Sensors)).Msg("Topology loaded")
	}

	ctlCfg := control.DefaultConfig()
	ctlCfg.Topology = topo
	ctlCfg.Overrides = overrides
	ctlCfg.Mode = mode
	ctlCfg.Policy = policy
	ctlCfg.Warmup = seconds(cfg.Warmup)
	ctlCfg.PollInterval = seconds(cfg.Interval)
	ctlCfg.RetryInterval = seconds(cfg.RetryInterval)
	ctlCfg.SelfTestHold = seconds(cfg.SelfTestHold)

	return ctlCfg, nil
}

// buildReporters returns the enabled cycle receivers and what must be closed
// on exit. The status server is also returned so it can be run. A reporter
// that fails to start is logged and left out.
func buildReporters(cfg *config.Config, weather *ambient.Client, state func() control.State) ([]control.Reporter, []io.Closer, *status.Server) {
	var (
		reporters []control.Reporter
		closers   []io.Closer
		srv       *status.Server
	)

	if cfg.Dashboard && !logger.IsService() {
		reporters = append(reporters, dashboard.New(os.Stdout, dashboard.WithAmbient(weather)))
	}

	collector, err := metrics.NewService(metrics.Config{
		Enabled:      cfg.Metrics.Enabled,
		DBPath:       cfg.Metrics.DBPath,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: seconds(cfg.Metrics.BatchTimeout),
	}, logger.Default())
	if err != nil {
		logger.ErrorWithCode(coded(err)).Msg("Metrics disabled")
	} else {
		reporters = append(reporters, collector)
		closers = append(closers, collector)
	}

	if cfg.MQTT.Enabled {
		pub, err := publish.Connect(publish.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, logger.Default())
		if err != nil {
			logger.ErrorWithCode(coded(err)).Msg("MQTT publishing disabled")
		} else {
			reporters = append(reporters, pub)
			closers = append(closers, pub)
		}
	}

	if cfg.Status.Listen != "" {
		srv = status.New(cfg.Status.Listen, status.WithState(state))
		reporters = append(reporters, srv)
	}

	return reporters, closers, srv
}

func selfTest(ctx context.Context, controller *control.Controller) error {
	var g run.Group
	ctx, cancel := context.WithCancel(ctx)
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return controller.SelfTest(ctx)
	}, func(error) {
		cancel()
	})

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		return nil
	}
	return err
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close reporter")
		}
	}
}

func coded(err error) errors.Error {
	var e errors.Error
	if errors.As(err, &e) {
		return e
	}
	return errors.New().Wrap(errors.ErrInternal, err)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
