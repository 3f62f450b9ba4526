package playback

import "errors"

var (
	// ErrBridgeInjection is reported when the control channel could not
	// be brought up in a loaded surface. It is never fatal: the bridge
	// falls back to degraded, view-only playback.
	ErrBridgeInjection = errors.New("control channel injection failed")

	// ErrChannelLost is reported when the surface drops an attached
	// control channel. Navigation stays off until it attaches again.
	ErrChannelLost = errors.New("control channel lost")

	// ErrAlreadyMounted is returned by Mount on a bridge that is not in
	// the Unmounted state.
	ErrAlreadyMounted = errors.New("bridge already mounted")

	// errEventIgnored marks an event that is not valid in the current
	// state. It never leaves the package.
	errEventIgnored = errors.New("event ignored")
)
