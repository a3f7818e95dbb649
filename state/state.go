package state

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]Module
	// Order is the initialization order, cleanup runs in reverse
	Order []string
}

// Env can be read from any Goroutine
type Env struct {
	Mailbox *Mailbox
	LocalCfg
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Started  atomic.Bool
	Stopping atomic.Bool
}

// Self is the address this node was bound to.
func (e *Env) Self() Address {
	return e.Address
}
