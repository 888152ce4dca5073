package ambient

import "codeberg.org/mutker/ipmifanctl/internal/errors"

const (
	ErrRequestFailed  = errors.ErrorCode("ambient_request_failed")
	ErrBadStatus      = errors.ErrorCode("ambient_bad_status")
	ErrParseFailed    = errors.ErrorCode("ambient_parse_failed")
	ErrOutOfRange     = errors.ErrorCode("ambient_out_of_range")
	ErrLocationFailed = errors.ErrorCode("ambient_location_failed")
)
