package patient

import "errors"

var (
	// ErrValidation reports a blank or malformed required field, such as
	// empty note content or a missing bed number.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition reports a lifecycle guard violation: discharging
	// an already-discharged patient, or mutating a discharged record.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)
