// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Create(t *testing.T) {
	tests := []struct {
		workers int
		want    int
	}{
		{4, 4},
		{1, 1},
		{0, runtime.GOMAXPROCS(0)},
		{-5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		p := NewPool(tt.workers)
		if p.Workers() != tt.want {
			t.Errorf("NewPool(%d).Workers() = %d, want %d", tt.workers, p.Workers(), tt.want)
		}
		p.Close()
	}
}

func TestPool_Run(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	const n = 100
	var counter atomic.Int64
	seen := make([]atomic.Bool, n)
	err := p.Run(context.Background(), n, func(_ context.Context, i int) error {
		counter.Add(1)
		seen[i].Store(true)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if counter.Load() != n {
		t.Errorf("counter = %d, want %d", counter.Load(), n)
	}
	for i := range seen {
		if !seen[i].Load() {
			t.Errorf("job %d never ran", i)
		}
	}
}

func TestPool_RunEmpty(t *testing.T) {
	p := NewPool(2)
	defer p.Close()
	called := false
	if err := p.Run(context.Background(), 0, func(context.Context, int) error {
		called = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("job called for empty batch")
	}
}

func TestPool_RunErrors(t *testing.T) {
	p := NewPool(3)
	defer p.Close()

	errOdd := errors.New("odd")
	err := p.Run(context.Background(), 10, func(_ context.Context, i int) error {
		if i%2 == 1 {
			return errOdd
		}
		return nil
	})
	if !errors.Is(err, errOdd) {
		t.Fatalf("err = %v, want errOdd", err)
	}
	if got := len(err.(interface{ Unwrap() []error }).Unwrap()); got != 5 {
		t.Errorf("joined %d errors, want 5", got)
	}
}

func TestPool_RunPanic(t *testing.T) {
	p := NewPool(2)
	defer p.Close()
	err := p.Run(context.Background(), 4, func(_ context.Context, i int) error {
		if i == 2 {
			panic("boom")
		}
		return nil
	})
	if err == nil {
		t.Fatal("panic not reported")
	}
	// The pool survives a panicking job.
	if err := p.Run(context.Background(), 4, func(context.Context, int) error { return nil }); err != nil {
		t.Errorf("pool unusable after panic: %v", err)
	}
}

func TestPool_RunCancelled(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Int64
	err := p.Run(ctx, 20, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ran.Load() != 0 {
		t.Errorf("%d jobs ran after cancel", ran.Load())
	}
}

func TestPool_Close(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close()
	if err := p.Run(context.Background(), 1, func(context.Context, int) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close err = %v, want ErrClosed", err)
	}
}

func TestPool_CloseDuringRun(t *testing.T) {
	p := NewPool(2)
	var ran atomic.Int64
	done := make(chan error)
	go func() {
		done <- p.Run(context.Background(), 50, func(context.Context, int) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v", err)
		}
		if err == nil && ran.Load() != 50 {
			t.Errorf("ran %d of 50 jobs", ran.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestPool_WorkStealing(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	// Job 0 blocks its worker; the rest of its queue must be stolen.
	release := make(chan struct{})
	var mu sync.Mutex
	finished := 0
	go func() {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if finished < 39 {
			t.Errorf("only %d jobs finished while worker 0 was blocked", finished)
		}
		close(release)
	}()
	err := p.Run(context.Background(), 40, func(_ context.Context, i int) error {
		if i == 0 {
			<-release
			return nil
		}
		mu.Lock()
		finished++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var total atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), 25, func(context.Context, int) error {
				total.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	if total.Load() != 200 {
		t.Errorf("total = %d, want 200", total.Load())
	}
}

func TestPool_NoGoroutineLeak(t *testing.T) {
	before := runtime.NumGoroutine()
	for range 10 {
		p := NewPool(4)
		_ = p.Run(context.Background(), 10, func(context.Context, int) error { return nil })
		p.Close()
	}
	time.Sleep(10 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines: before %d, after %d", before, after)
	}
}

func TestPool_Pending(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	if got := p.Pending(); got != 0 {
		t.Errorf("Pending on idle pool = %d", got)
	}
}
