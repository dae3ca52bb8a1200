package booking

import (
	"errors"
	"fmt"
)

var (
	ErrBookingNotFound     = errors.New("video link booking not found")
	ErrAppointmentNotFound = errors.New("video link appointment not found")
	ErrEventsNotFound      = errors.New("no events recorded for video link booking")
)

// ValidationError reports semantically invalid caller input. It is always
// raised before any gateway mutation, so a caller seeing one can be sure no
// side effects happened.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DataIntegrityError indicates corrupt local data, e.g. an event log that does
// not start with CREATE. It is fatal for the operation and never recovered.
type DataIntegrityError struct {
	Msg string
}

func (e DataIntegrityError) Error() string {
	return e.Msg
}
