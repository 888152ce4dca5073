package ipmi

import "codeberg.org/mutker/ipmifanctl/internal/errors"

const (
	ErrCommandFailed = errors.ErrorCode("ipmi_command_failed")
	ErrNoSensors     = errors.ErrorCode("ipmi_no_temperature_sensors")
	ErrMissingHost   = errors.ErrorCode("ipmi_missing_host")
)
