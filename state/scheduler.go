package state

import (
	"context"
	"errors"
	"time"
)

var ErrNotRunning = errors.New("node is not running")

// Dispatch Dispatches the function to run on the main thread without waiting for it to complete
func (e *Env) Dispatch(fun func(*State) error) {
	if !e.Mailbox.Post(fun) && e.Log != nil {
		e.Log.Debug("dropped dispatch, node is stopping")
	}
}

// DispatchWait Dispatches the function to run on the main thread and wait for it to complete
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	ok := e.Mailbox.Post(func(s *State) error {
		res, err := fun(s)
		ret <- Pair[any, error]{res, err}
		return nil
	})
	if !ok {
		return nil, ErrNotRunning
	}
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, context.Cause(e.Context)
	}
}

// DispatchWaitT is DispatchWait with a typed result.
func DispatchWaitT[T any](e *Env, fun func(*State) (T, error)) (T, error) {
	res, err := e.DispatchWait(func(s *State) (any, error) {
		return fun(s)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if e.Context.Err() != nil {
			return
		}
		e.Dispatch(fun)
	})
}

func (e *Env) repeatedTask(fun func(*State) error, delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		e.Dispatch(fun)
		select {
		case <-e.Context.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	go e.repeatedTask(fun, delay)
}
