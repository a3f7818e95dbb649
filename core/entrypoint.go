package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"reflect"
	"runtime"
	"time"

	"github.com/encodeous/skein/perf"
	"github.com/encodeous/skein/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the node logger: tinted stderr output, plus a plain text file when LogPath is set.
// The returned func closes the log file.
func NewLogger(cfg *state.LocalCfg) (*slog.Logger, func() error, error) {
	level, err := state.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: string(cfg.Address),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	closer := func() error { return nil }
	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}).
			WithAttrs([]slog.Attr{slog.String("node", string(cfg.Address))}))
		closer = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// bind starts a node. A nil logger means the node builds and owns its own from cfg.
func bind(ctx context.Context, cfg state.LocalCfg, logger *slog.Logger, transports []state.Transport, onStop func()) (*Socket, error) {
	closeLog := func() error { return nil }
	if logger == nil {
		var err error
		logger, closeLog, err = NewLogger(&cfg)
		if err != nil {
			return nil, err
		}
	}
	nctx, cancel := context.WithCancelCause(ctx)

	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Mailbox:  state.NewMailbox(),
			LocalCfg: cfg,
			Context:  nctx,
			Cancel:   cancel,
			Log:      logger,
		},
	}

	s.Log.Debug("init modules")
	err := initModules(s,
		&Tracer{},
		&Router{},
		&Broker{},
		&Links{transports: transports},
	)
	if err != nil {
		cancel(err)
		s.Mailbox.Close()
		_ = closeLog()
		return nil, err
	}
	s.Log.Debug("init modules complete")

	sk := &Socket{
		env:     s.Env,
		router:  Get[*Router](s),
		tracer:  Get[*Tracer](s),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(sk.done)
		defer closeLog()
		MainLoop(s)
		if onStop != nil {
			onStop()
		}
		close(sk.stopped)
		// a responder may be the one closing the socket, so this waits past Close
		Get[*Broker](s).responders.Wait()
	}()
	s.Log.Info("bound", "transports", len(transports))
	return sk, nil
}

// initModules initializes modules in order. If one fails, the ones before it are cleaned up.
func initModules(s *state.State, modules ...state.Module) error {
	for _, module := range modules {
		name := reflect.TypeOf(module).String()
		s.Modules[name] = module
		if err := module.Init(s); err != nil {
			for i := len(s.Order) - 1; i >= 0; i-- {
				_ = s.Modules[s.Order[i]].Cleanup(s)
			}
			return fmt.Errorf("init %s: %w", name, err)
		}
		s.Order = append(s.Order, name)
	}
	return nil
}

func MainLoop(s *state.State) {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case <-s.Mailbox.Wake():
			for _, fun := range s.Mailbox.Take() {
				if s.Context.Err() != nil {
					goto endLoop
				}
				runDispatch(s, fun)
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Debug("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
}

func runDispatch(s *state.State, fun func(*state.State) error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic during dispatch: %v", rec)
			s.Log.Error("error occurred during dispatch", "error", err)
			s.Cancel(err)
		}
	}()
	err := fun(s)
	if err != nil {
		s.Log.Error("error occurred during dispatch", "error", err)
		s.Cancel(err)
	}
	elapsed := time.Since(start)
	perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
	perf.MailboxDepth.Add(float64(s.Mailbox.Len()))
	if elapsed > state.SlowDispatchThreshold {
		s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", s.Mailbox.Len())
	}
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Mailbox.Close()
	s.Log.Debug("cleaning up modules")
	for i := len(s.Order) - 1; i >= 0; i-- {
		name := s.Order[i]
		if err := s.Modules[name].Cleanup(s); err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
		}
	}
	s.Log.Info("stopped", "reason", context.Cause(s.Context).Error())
}
