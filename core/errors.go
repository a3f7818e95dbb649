package core

import (
	"errors"
	"fmt"

	"github.com/encodeous/skein/state"
)

var (
	ErrSocketClosed    = errors.New("socket closed")
	ErrStreamClosed    = errors.New("stream closed")
	ErrUndeliverable   = errors.New("destination unreachable, packet dropped from outbound buffer")
	ErrProducerStopped = errors.New("producer stopped")
	ErrAlreadyBound    = errors.New("address already bound")
	ErrNoResponse      = errors.New("request completed without a response")
	ErrReservedKey     = errors.New("message key is reserved")
	ErrTraceDisabled   = errors.New("tracing requires debug to be enabled")
)

// RemoteError is the error frame a responder sent back
type RemoteError struct {
	Source      state.Address
	Key         string
	Transaction string
	Value       any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %s on %q: %v", e.Source, e.Key, e.Value)
}
