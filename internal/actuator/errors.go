package actuator

import "codeberg.org/mutker/ipmifanctl/internal/errors"

const (
	ErrOpenFailed    = errors.ErrorCode("serial_open_failed")
	ErrWriteFailed   = errors.ErrorCode("serial_write_failed")
	ErrClosed        = errors.ErrorCode("serial_port_closed")
	ErrFanOutOfRange = errors.ErrorCode("fan_out_of_range")
)
