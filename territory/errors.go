package territory

import "errors"

var (
	// ErrNoFix means no fix has passed the accuracy gate yet, so a recording
	// has no origin to start from.
	ErrNoFix = errors.New("no accurate location fix available")
	// ErrPermissionDenied is returned by a provider whose user refused location access.
	ErrPermissionDenied = errors.New("location permission denied")

	ErrNotRecording     = errors.New("session is not recording")
	ErrAlreadyRecording = errors.New("session is already recording")
	// ErrNotClosable is returned when a dominio trace has not returned near its start.
	ErrNotClosable = errors.New("trace is not closed")
	// ErrTooShort is returned when the walked distance is below the finalize minimum.
	ErrTooShort = errors.New("trace is too short to finalize")

	ErrInvalidPolygon = errors.New("invalid polygon")
	ErrNotFound       = errors.New("not found")
)
