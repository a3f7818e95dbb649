package core

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/encodeous/skein/state"
)

// Registry tracks the sockets bound by one application. An address can only be bound once at a time.
type Registry struct {
	mu      sync.Mutex
	sockets map[state.Address]*Socket
}

func NewRegistry() *Registry {
	return &Registry{
		sockets: make(map[state.Address]*Socket),
	}
}

// Bind starts a node for cfg on the given transports
func (r *Registry) Bind(ctx context.Context, cfg state.LocalCfg, transports ...state.Transport) (*Socket, error) {
	return r.bind(ctx, cfg, nil, transports)
}

// BindWithLogger is Bind with a logger owned by the caller, e.g. one already shared with the transports
func (r *Registry) BindWithLogger(ctx context.Context, cfg state.LocalCfg, logger *slog.Logger, transports ...state.Transport) (*Socket, error) {
	return r.bind(ctx, cfg, logger, transports)
}

func (r *Registry) bind(ctx context.Context, cfg state.LocalCfg, logger *slog.Logger, transports []state.Transport) (*Socket, error) {
	state.ExpandLocalConfig(&cfg)
	if err := state.LocalConfigValidator(&cfg); err != nil {
		return nil, err
	}
	addr := cfg.Address

	r.mu.Lock()
	if _, ok := r.sockets[addr]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyBound
	}
	// reserve the address while the node starts
	r.sockets[addr] = nil
	r.mu.Unlock()

	sk, err := bind(ctx, cfg, logger, transports, func() {
		r.remove(addr)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.sockets, addr)
		return nil, err
	}
	if _, ok := r.sockets[addr]; ok {
		r.sockets[addr] = sk
	}
	return sk, nil
}

func (r *Registry) remove(addr state.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, addr)
}

func (r *Registry) Lookup(addr state.Address) (*Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sk := r.sockets[addr]
	return sk, sk != nil
}

// Sockets returns every running socket ordered by address
func (r *Registry) Sockets() []*Socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Socket, 0, len(r.sockets))
	for _, addr := range slices.Sorted(maps.Keys(r.sockets)) {
		if sk := r.sockets[addr]; sk != nil {
			out = append(out, sk)
		}
	}
	return out
}

func (r *Registry) CloseAll() {
	var wg sync.WaitGroup
	for _, sk := range r.Sockets() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sk.Close()
		}()
	}
	wg.Wait()
}
