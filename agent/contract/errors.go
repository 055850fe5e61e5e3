package contract

import "errors"

var (
	ErrParse                 = errors.New("unparseable date, time, or duration")
	ErrValidation            = errors.New("validation failed")
	ErrConflict              = errors.New("requested slot unavailable")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrModelInvoke           = errors.New("model invoke failed")
	ErrSchemaViolation       = errors.New("model response violates schema")
	ErrNotFound              = errors.New("not found")
)
