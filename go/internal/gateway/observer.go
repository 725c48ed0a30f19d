package gateway

import "errors"

// ErrObserverClosed is returned by Deliver after Close.
var ErrObserverClosed = errors.New("observer closed")

// ErrObserverSlow is returned when an observer's buffer is full.
var ErrObserverSlow = errors.New("observer send buffer full")

// Frame is one event as delivered to observers. Raw is the marshaled
// envelope, produced once per broadcast.
type Frame struct {
	Event *Event
	Raw   []byte
}

// Observer receives broadcast frames. Deliver must not block: push
// observers queue the frame and write it from their own goroutine, so each
// observer sees frames in broadcast order. An observer whose Deliver fails
// is unregistered and its client falls back to pulling state.
type Observer interface {
	ID() string
	Kind() string
	Deliver(f Frame) error
	Close()
}
