package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/ipmifanctl/internal/config"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// load isolates Load from the host: an empty config file, no .env, no args.
func load(t *testing.T, opts ...config.Option) (*config.Config, error) {
	t.Helper()
	t.Setenv("IPMIFANCTL_CONFIG", "")
	base := []config.Option{
		config.WithArgs(nil),
		config.WithEnvFiles(),
		config.WithConfigFile(writeFile(t, "empty.toml", "")),
	}
	return config.Load(append(base, opts...)...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "ipmifanctl.toml", `
offset = 15
mode = "critical"
interval = 3
log_level = "debug"
dashboard = false

[ipmi]
host = "192.168.1.60"
user = "Administrator"

[serial]
device = "/dev/ttyACM0"

[metrics]
enabled = true
db_path = "/tmp/history.db"
`)

	cfg, err := load(t, config.WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Offset)
	assert.Equal(t, "critical", cfg.Mode)
	assert.Equal(t, 3, cfg.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Dashboard)
	assert.Equal(t, "192.168.1.60", cfg.IPMI.Host)
	assert.Equal(t, "Administrator", cfg.IPMI.User)
	assert.Equal(t, "lanplus", cfg.IPMI.Interface)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/tmp/history.db", cfg.Metrics.DBPath)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(
		config.WithArgs(nil),
		config.WithEnvFiles(),
		config.WithEnvPrefix("IPMIFANCTL_TEST_DEFAULTS"),
	)
	if err != nil && errors.HasCode(err, errors.ErrReadConfig) {
		t.Skip("host has a config file at the default path")
	}
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Offset)
	assert.Equal(t, "warning", cfg.Mode)
	assert.Equal(t, 120, cfg.Warmup)
	assert.Equal(t, 5, cfg.Interval)
	assert.Equal(t, 10, cfg.RetryInterval)
	assert.Equal(t, 43200, cfg.AmbientInterval)
	assert.Equal(t, 20, cfg.DefaultMinSpeed)
	assert.Equal(t, 6, cfg.FanCount)
	assert.Equal(t, 90, cfg.SelfTestHold)
	assert.Equal(t, "ipmitool", cfg.IPMI.Command)
	assert.Equal(t, 15, cfg.IPMI.Timeout)
	assert.Equal(t, 2000, cfg.Serial.SettleMS)
	assert.Equal(t, "https://wttr.in", cfg.Ambient.URL)
	assert.Equal(t, "Moscow", cfg.Ambient.City)
	assert.True(t, cfg.Ambient.Locate)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 12, cfg.Metrics.BatchSize)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "ipmifanctl/status", cfg.MQTT.Topic)
	assert.Empty(t, cfg.Status.Listen)
	assert.True(t, cfg.Dashboard)
	assert.Equal(t, string(config.DefaultLogLevel), cfg.LogLevel)
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	path := writeFile(t, "ipmifanctl.toml", "offset = 15\nmode = \"critical\"\n")
	t.Setenv("IPMIFANCTL_OFFSET", "25")

	cfg, err := load(t,
		config.WithConfigFile(path),
		config.WithArgs([]string{"--offset", "30", "--usetemp", "warning", "--test", "--log-level", "error"}))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Offset)
	assert.Equal(t, "warning", cfg.Mode)
	assert.True(t, cfg.Test)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "ipmifanctl.toml", "offset = 15\n[ipmi]\nhost = \"10.0.0.1\"\n")
	t.Setenv("IPMIFANCTL_OFFSET", "25")
	t.Setenv("IPMIFANCTL_IPMI_HOST", "10.0.0.2")

	cfg, err := load(t, config.WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Offset)
	assert.Equal(t, "10.0.0.2", cfg.IPMI.Host)
}

func TestConfigFlagAndEnvPath(t *testing.T) {
	flagPath := writeFile(t, "flag.toml", "offset = 11\n")
	envPath := writeFile(t, "env.toml", "offset = 12\n")

	t.Setenv("IPMIFANCTL_CONFIG", envPath)
	cfg, err := config.Load(config.WithArgs(nil), config.WithEnvFiles())
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Offset)

	cfg, err = config.Load(config.WithArgs([]string{"--config", flagPath}), config.WithEnvFiles())
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Offset)
}

func TestDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "IPMIFANCTL_IPMI_PASSWORD=s3cret\n")
	// godotenv sets process env; make sure it is cleared afterwards.
	t.Setenv("IPMIFANCTL_IPMI_PASSWORD", "")
	require.NoError(t, os.Unsetenv("IPMIFANCTL_IPMI_PASSWORD"))

	cfg, err := load(t, config.WithEnvFiles(envFile, filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.IPMI.Password)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		args    []string
		code    errors.ErrorCode
	}{
		{"invalid toml", "This is not a valid TOML file\n", nil, errors.ErrReadConfig},
		{"invalid log level", "log_level = \"invalid\"\n", nil, errors.ErrInvalidLogLevel},
		{"invalid mode", "mode = \"average\"\n", nil, errors.ErrInvalidMode},
		{"offset too large", "offset = 100\n", nil, errors.ErrInvalidOffset},
		{"negative min speed", "default_min_speed = -1\n", nil, errors.ErrInvalidSpeed},
		{"too many fans", "fan_count = 17\n", nil, errors.ErrInvalidTopology},
		{"zero interval", "interval = 0\n", nil, errors.ErrInvalidInterval},
		{"negative warmup", "warmup = -1\n", nil, errors.ErrInvalidInterval},
		{"unknown flag", "", []string{"--fanspeed", "80"}, errors.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "ipmifanctl.toml", tt.content)
			_, err := load(t, config.WithConfigFile(path), config.WithArgs(tt.args))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := load(t, config.WithConfigFile(filepath.Join(t.TempDir(), "nope.toml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLogLevelIsValid(t *testing.T) {
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}
