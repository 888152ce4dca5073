package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidMode     ErrorCode = "invalid_mode"
	ErrInvalidOffset   ErrorCode = "invalid_offset"
	ErrInvalidSpeed    ErrorCode = "invalid_speed"
	ErrInvalidTopology ErrorCode = "invalid_topology"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Control errors
	ErrTelemetryUnavailable ErrorCode = "telemetry_unavailable"
	ErrAmbientUnavailable   ErrorCode = "ambient_unavailable"
	ErrActuatorTransmit     ErrorCode = "actuator_transmit_failed"
	ErrActuatorUnreachable  ErrorCode = "actuator_unreachable"
	ErrReportFailed         ErrorCode = "report_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrUnavailable:          "Service unavailable",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrInvalidConfig:        "Invalid configuration",
	ErrReadConfig:           "Failed to read config file",
	ErrBindFlags:            "Failed to bind flags",
	ErrInvalidInterval:      "Invalid interval value",
	ErrInvalidMode:          "Invalid threshold mode",
	ErrInvalidOffset:        "Invalid threshold offset",
	ErrInvalidSpeed:         "Invalid fan speed",
	ErrInvalidTopology:      "Invalid fan topology",
	ErrInvalidLogLevel:      "Invalid log level",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrTelemetryUnavailable: "Temperature telemetry unavailable",
	ErrAmbientUnavailable:   "Ambient temperature unavailable",
	ErrActuatorTransmit:     "Failed to transmit fan command",
	ErrActuatorUnreachable:  "Fan actuator unreachable",
	ErrReportFailed:         "Failed to report control cycle",
	ErrOperationFailed:      "Operation failed",
	ErrTimeout:              "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
