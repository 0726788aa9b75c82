package lua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T, queue int) (*Executor, *State) {
	t.Helper()
	s := newTestState(t)
	exec := NewExecutor(s, queue, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		exec.Run(context.Background())
	}()
	t.Cleanup(func() {
		exec.Close()
		<-done
	})
	return exec, s
}

func TestNewExecutorDefaultQueueSize(t *testing.T) {
	exec := NewExecutor(nil, 0, nil)
	if cap(exec.queue) != 100 {
		t.Errorf("queue size = %d, want 100", cap(exec.queue))
	}
	if exec.IsClosed() {
		t.Error("new executor should not be closed")
	}
}

func TestExecutorExecute(t *testing.T) {
	exec, _ := startExecutor(t, 10)
	ctx := context.Background()

	err := exec.Execute(ctx, func(s *State) error {
		return s.DoString(ctx, `value = 10`)
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got lua.LValue
	if err := exec.Execute(ctx, func(s *State) error {
		got = s.GetGlobal("value")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if got != lua.LNumber(10) {
		t.Errorf("value = %v, want 10", got)
	}

	want := errors.New("failed")
	if err := exec.Execute(ctx, func(*State) error { return want }); !errors.Is(err, want) {
		t.Errorf("Execute() error = %v, want %v", err, want)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	exec, _ := startExecutor(t, 10)

	err := exec.Execute(context.Background(), func(*State) error { panic("boom") })
	if err == nil {
		t.Fatal("Execute() should turn a panic into an error")
	}
	if err := exec.Execute(context.Background(), func(*State) error { return nil }); err != nil {
		t.Errorf("executor unusable after panic: %v", err)
	}
}

func TestExecutorSerializes(t *testing.T) {
	exec, _ := startExecutor(t, 100)
	ctx := context.Background()

	var running, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Execute(ctx, func(s *State) error {
				if running.Add(1) > 1 {
					overlaps.Add(1)
				}
				defer running.Add(-1)
				return s.DoString(ctx, `counter = (counter or 0) + 1`)
			})
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("%d operations overlapped", overlaps.Load())
	}
	var got lua.LValue
	_ = exec.Execute(ctx, func(s *State) error { got = s.GetGlobal("counter"); return nil })
	if got != lua.LNumber(20) {
		t.Errorf("counter = %v, want 20", got)
	}
}

func TestExecutorAsync(t *testing.T) {
	exec, _ := startExecutor(t, 10)

	ran := make(chan struct{})
	if err := exec.ExecuteAsync(func(*State) error {
		close(ran)
		return errors.New("logged, not returned")
	}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("async call never ran")
	}
}

func TestExecutorQueueFull(t *testing.T) {
	exec := NewExecutor(nil, 1, nil)
	defer exec.Close()

	if err := exec.ExecuteAsync(func(*State) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteAsync(func(*State) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("ExecuteAsync() error = %v, want ErrQueueFull", err)
	}
}

func TestExecutorClosed(t *testing.T) {
	exec := NewExecutor(nil, 10, nil)
	exec.Close()
	exec.Close()

	if !exec.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := exec.Execute(context.Background(), func(*State) error { return nil }); !IsClosedErr(err) {
		t.Errorf("Execute() error = %v, want closed", err)
	}
	if err := exec.ExecuteAsync(func(*State) error { return nil }); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("ExecuteAsync() error = %v", err)
	}
}

func TestExecutorCloseFailsQueued(t *testing.T) {
	exec := NewExecutor(nil, 10, nil)
	c := &call{fn: func(*State) error { return nil }, result: make(chan error, 1)}
	exec.queue <- c

	exec.Close()
	exec.Run(context.Background())

	if err := <-c.result; !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("queued call error = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorContextCancelled(t *testing.T) {
	exec := NewExecutor(nil, 10, nil)
	defer exec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := exec.Execute(ctx, func(*State) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
