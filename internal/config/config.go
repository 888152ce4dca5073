// Package config loads settings from flags, environment, a TOML file and
// built-in defaults, in that order of precedence.
package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath = "/etc/ipmifanctl.toml"
	DefaultEnvPrefix  = "IPMIFANCTL"
	DefaultLogLevel   = LogLevelInfo

	maxFanCount = 16
)

type IPMIConfig struct {
	Command   string `mapstructure:"command"`
	Interface string `mapstructure:"interface"`
	Host      string `mapstructure:"host"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Timeout   int    `mapstructure:"timeout"`
}

type SerialConfig struct {
	Device    string `mapstructure:"device"`
	Baud      int    `mapstructure:"baud"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	SettleMS  int    `mapstructure:"settle_ms"`
}

type AmbientConfig struct {
	URL       string `mapstructure:"url"`
	City      string `mapstructure:"city"`
	Locate    bool   `mapstructure:"locate"`
	LocateURL string `mapstructure:"locate_url"`
	Timeout   int    `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
}

type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

// Config holds every setting. Durations are in seconds unless the key says
// otherwise.
type Config struct {
	Offset          int    `mapstructure:"offset"`
	Mode            string `mapstructure:"mode"`
	Test            bool   `mapstructure:"test"`
	LogLevel        string `mapstructure:"log_level"`
	Warmup          int    `mapstructure:"warmup"`
	Interval        int    `mapstructure:"interval"`
	RetryInterval   int    `mapstructure:"retry_interval"`
	AmbientInterval int    `mapstructure:"ambient_interval"`
	DefaultMinSpeed int    `mapstructure:"default_min_speed"`
	FanCount        int    `mapstructure:"fan_count"`
	SelfTestHold    int    `mapstructure:"self_test_hold"`
	TopologyFile    string `mapstructure:"topology_file"`
	PIDFile         string `mapstructure:"pid_file"`
	Dashboard       bool   `mapstructure:"dashboard"`

	IPMI    IPMIConfig    `mapstructure:"ipmi"`
	Serial  SerialConfig  `mapstructure:"serial"`
	Ambient AmbientConfig `mapstructure:"ambient"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Status  StatusConfig  `mapstructure:"status"`
}

var defaults = map[string]any{
	"offset":            20,
	"mode":              "warning",
	"test":              false,
	"log_level":         string(DefaultLogLevel),
	"warmup":            120,
	"interval":          5,
	"retry_interval":    10,
	"ambient_interval":  43200,
	"default_min_speed": 20,
	"fan_count":         6,
	"self_test_hold":    90,
	"topology_file":     "",
	"pid_file":          "",
	"dashboard":         true,

	"ipmi.command":   "ipmitool",
	"ipmi.interface": "lanplus",
	"ipmi.host":      "",
	"ipmi.user":      "",
	"ipmi.password":  "",
	"ipmi.timeout":   15,

	"serial.device":     "/dev/ttyUSB0",
	"serial.baud":       115200,
	"serial.timeout_ms": 1000,
	"serial.settle_ms":  2000,

	"ambient.url":        "https://wttr.in",
	"ambient.city":       "Moscow",
	"ambient.locate":     true,
	"ambient.locate_url": "https://ipinfo.io",
	"ambient.timeout":    10,

	"metrics.enabled":       false,
	"metrics.db_path":       "/var/lib/ipmifanctl/metrics.db",
	"metrics.batch_size":    12,
	"metrics.batch_timeout": 60,

	"mqtt.enabled":   false,
	"mqtt.broker":    "tcp://localhost:1883",
	"mqtt.client_id": "ipmifanctl",
	"mqtt.username":  "",
	"mqtt.password":  "",
	"mqtt.topic":     "ipmifanctl/status",

	"status.listen": "",
}

// flag name -> config key
var flagKeys = map[string]string{
	"offset":    "offset",
	"usetemp":   "mode",
	"test":      "test",
	"log-level": "log_level",
}

// Load reads the configuration and validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		args:      os.Args[1:],
		envPrefix: DefaultEnvPrefix,
		envFiles:  []string{".env"},
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	if err := loadEnvFiles(o.envFiles); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ipmifanctl", pflag.ContinueOnError)
	fs.Int("offset", 20, "Percentage below the base temperature where fans start to ramp")
	fs.String("usetemp", "warning", "Base temperature: warning or critical")
	fs.Bool("test", false, "Sweep all fans through 100/50/100% and exit")
	fs.String("log-level", string(DefaultLogLevel), "Log level: debug, info, warning, error")
	fs.String("config", "", "Path to the TOML configuration file")
	return fs
}

// readConfigFile reads the file named by --config, the CONFIG environment
// variable, WithConfigFile, or the default path, in that order. Only the
// default path may be missing.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path, explicit := DefaultConfigPath, false
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path, explicit = f.Value.String(), true
	} else if env := os.Getenv(o.envPrefix + "_CONFIG"); env != "" {
		path, explicit = env, true
	} else if o.configPath != "" {
		path, explicit = o.configPath, true
	}

	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	switch strings.ToLower(c.Mode) {
	case "warning", "critical":
	default:
		return errFactory.WithData(errors.ErrInvalidMode, c.Mode)
	}
	if c.Offset < 0 || c.Offset >= 100 {
		return errFactory.WithData(errors.ErrInvalidOffset, c.Offset)
	}
	if c.DefaultMinSpeed < 0 || c.DefaultMinSpeed > 100 {
		return errFactory.WithData(errors.ErrInvalidSpeed, c.DefaultMinSpeed)
	}
	if c.FanCount < 1 || c.FanCount > maxFanCount {
		return errFactory.WithData(errors.ErrInvalidTopology, struct {
			Field string
			Value int
		}{"fan_count", c.FanCount})
	}
	if c.Warmup < 0 {
		return invalidInterval("warmup", c.Warmup)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"interval", c.Interval},
		{"retry_interval", c.RetryInterval},
		{"ambient_interval", c.AmbientInterval},
		{"self_test_hold", c.SelfTestHold},
		{"ipmi.timeout", c.IPMI.Timeout},
		{"ambient.timeout", c.Ambient.Timeout},
		{"serial.baud", c.Serial.Baud},
		{"serial.timeout_ms", c.Serial.TimeoutMS},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return invalidInterval(p.name, p.value)
		}
	}
	if c.Serial.SettleMS < 0 {
		return invalidInterval("serial.settle_ms", c.Serial.SettleMS)
	}
	if c.Metrics.BatchSize < 0 || c.Metrics.BatchTimeout < 0 {
		return invalidInterval("metrics.batch", c.Metrics.BatchSize)
	}

	return nil
}

func invalidInterval(field string, value int) error {
	return errors.New().WithData(errors.ErrInvalidInterval, struct {
		Field string
		Value int
	}{field, value})
}
