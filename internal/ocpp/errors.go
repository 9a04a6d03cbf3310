package ocpp

import "errors"

var (
	// ErrNotConnected is returned by outbound calls when no wallbox link is
	// bound. Callers fail fast without incurring a timeout.
	ErrNotConnected = errors.New("wallbox is not connected")

	// ErrTimeout is returned when the wallbox did not answer an outbound
	// call within its deadline.
	ErrTimeout = errors.New("request to wallbox timed out")
)
