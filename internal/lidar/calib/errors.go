package calib

import (
	"errors"
	"fmt"
)

// ErrCalibration is the sentinel wrapped by every calibration load failure.
var ErrCalibration = errors.New("calibration error")

// Error describes why a calibration description was rejected. The
// previously active table is always left in place when one is returned.
type Error struct {
	Source string // file path or description label
	Reason string
	Err    error // underlying parse error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("calibration %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCalibration, e.Err}
	}
	return []error{ErrCalibration}
}

func calibErrorf(source string, err error, format string, args ...interface{}) *Error {
	return &Error{Source: source, Reason: fmt.Sprintf(format, args...), Err: err}
}
