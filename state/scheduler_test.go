package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(ctx context.Context, cancel context.CancelFunc) *Env {
	return &Env{
		Mailbox: NewMailbox(),
		Context: ctx,
		Cancel: func(err error) {
			cancel()
		},
	}
}

// drain runs queued closures until the deadline or until stop reports true.
func drain(t *testing.T, s *State, deadline time.Duration, stop func() bool) {
	t.Helper()
	timeout := time.After(deadline)
	for !stop() {
		select {
		case <-s.Mailbox.Wake():
			for _, f := range s.Mailbox.Take() {
				if err := f(s); err != nil {
					t.Fatalf("dispatch error: %v", err)
				}
			}
		case <-timeout:
			return
		}
	}
}

func TestDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	state := &State{
		Env: env,
	}

	var called bool

	env.Dispatch(func(s *State) error {
		called = true
		return nil
	})

	drain(t, state, 100*time.Millisecond, func() bool { return called })

	if !called {
		t.Fatal("Dispatch function was not executed")
	}
}

func TestDispatchOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	state := &State{Env: env}

	var order []int
	for i := range 5 {
		env.Dispatch(func(s *State) error {
			order = append(order, i)
			return nil
		})
	}
	drain(t, state, 100*time.Millisecond, func() bool { return len(order) == 5 })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatchAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	env.Mailbox.Close()
	env.Dispatch(func(s *State) error {
		t.Fatal("should not run")
		return nil
	})
	assert.Equal(t, 0, env.Mailbox.Len())

	_, err := env.DispatchWait(func(s *State) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDispatchWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	state := &State{Env: env}

	done := make(chan struct{})
	go func() {
		defer close(done)
		drain(t, state, 200*time.Millisecond, func() bool { return false })
	}()

	res, err := DispatchWaitT(env, func(s *State) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	sentinel := errors.New("boom")
	_, err = env.DispatchWait(func(s *State) (any, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	<-done
}

func TestScheduleTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	state := &State{
		Env: env,
	}

	var taskCalled bool

	env.ScheduleTask(func(s *State) error {
		taskCalled = true
		return nil
	}, 50*time.Millisecond)

	// Wait enough time for the scheduled task to be dispatched.
	time.Sleep(100 * time.Millisecond)
	tasks := env.Mailbox.Take()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", len(tasks))
	}
	if err := tasks[0](state); err != nil {
		t.Errorf("Scheduled task error: %v", err)
	}

	if !taskCalled {
		t.Fatal("Scheduled task was not executed")
	}
}

func TestRepeatTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, cancel)
	state := &State{
		Env: env,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	var count int

	env.RepeatTask(func(s *State) error {
		count++
		if count <= 3 {
			wg.Done()
		}
		if count >= 3 {
			cancel()
		}
		return nil
	}, 50*time.Millisecond)

	// Process the repeat tasks until context is cancelled.
	drain(t, state, 500*time.Millisecond, func() bool { return ctx.Err() != nil })
	if ctx.Err() == nil {
		t.Fatal("Timed out waiting for RepeatTask to execute")
	}
	wg.Wait()
	if count != 3 {
		t.Fatalf("Expected 3 executions, got %d", count)
	}
}
