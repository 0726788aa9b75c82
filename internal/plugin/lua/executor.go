package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// call is one operation queued on an Executor. result is nil for
// asynchronous calls.
type call struct {
	fn     func(s *State) error
	result chan error
}

// Executor serializes all operations on a State through one goroutine.
//
// Usage:
//
//	exec := NewExecutor(state, 0, logger)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	// From any goroutine:
//	err := exec.Execute(ctx, func(s *State) error {
//	    return s.DoString(ctx, `print("hi")`)
//	})
type Executor struct {
	state  *State
	logger *zap.Logger
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an Executor for state. A queueSize of zero or less
// means 100.
func NewExecutor(state *State, queueSize int, logger *zap.Logger) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		state:  state,
		logger: logger,
		queue:  make(chan *call, queueSize),
		done:   make(chan struct{}),
	}
}

// Run processes queued operations until ctx is cancelled or Close is
// called. Operations still queued then fail.
func (e *Executor) Run(ctx context.Context) {
	for {
		// Stopping wins over queued work.
		select {
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		default:
		}

		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			err := e.exec(c)
			if c.result != nil {
				c.result <- err
				continue
			}
			if err != nil {
				e.logger.Warn("lua callback failed", zap.Error(err))
			}
		}
	}
}

func (e *Executor) exec(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return c.fn(e.state)
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			if c.result != nil {
				c.result <- err
			}
		default:
			return
		}
	}
}

// Execute runs fn on the executor goroutine and waits for it. When ctx ends
// first the operation may still run later.
func (e *Executor) Execute(ctx context.Context, fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.result:
		return err
	}
}

// ExecuteAsync queues fn without waiting. Failures are logged.
func (e *Executor) ExecuteAsync(fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- &call{fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}

// IsClosedErr reports whether err means the executor or state is gone.
func IsClosedErr(err error) bool {
	return errors.Is(err, ErrExecutorClosed) || errors.Is(err, ErrStateClosed)
}
