package playback

import "context"

// Surface is an isolated rendering context. The host hands it a complete
// document and never runs the document's scripts itself.
type Surface interface {
	// Load assigns markup as the surface's complete document. It does
	// not wait for the document to load.
	Load(ctx context.Context, markup string) error

	// Loaded returns a channel closed once the surface signals that the
	// document has loaded.
	Loaded() <-chan struct{}

	// Attach connects the control channel to the loaded document. It
	// fails if the document never brings up its side of the channel
	// before ctx is done. It is called again after an attached channel
	// is dropped.
	Attach(ctx context.Context) (ControlChannel, error)

	// Release tears the surface down. The bridge calls it exactly once.
	Release() error
}

// ControlChannel carries commands across the isolation boundary.
type ControlChannel interface {
	// Send delivers a command. Delivery is asynchronous and unordered
	// relative to the surface's own processing.
	Send(cmd Command) error

	// Close detaches the channel.
	Close() error

	// Done is closed once the channel is gone, whether detached by the
	// host or dropped by the surface.
	Done() <-chan struct{}
}
