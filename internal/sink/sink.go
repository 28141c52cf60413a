package sink

import "errors"

// ErrClosed is returned by operations on a closed sink
var ErrClosed = errors.New("sink closed")

// Sink accepts one byte at a time. PushByte never blocks: false means the
// sink is busy and the byte was not taken.
type Sink interface {
	PushByte(b byte) bool
}

// Notifier is implemented by sinks that can signal when space frees up
type Notifier interface {
	Ready() <-chan struct{}
}

// CTSFunc reports whether the receiver currently allows transmission
type CTSFunc func() (bool, error)
