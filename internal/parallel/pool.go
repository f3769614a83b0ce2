// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package parallel runs batches of independent jobs on a fixed set of
// goroutines.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("parallel: pool closed")

// Job is one unit of work. index is the job's position in the batch.
type Job func(ctx context.Context, index int) error

// Pool runs jobs on a fixed number of workers.
//
// Each worker has its own queue and steals from the others when it runs
// dry, so a batch with a few slow jobs still keeps every worker busy.
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// submit is held shared while a batch is queued, so Close cannot
	// stop the workers under it.
	submit sync.RWMutex
}

// NewPool starts a pool with the given number of workers. Zero or a
// negative count means GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
		default:
			if fn := p.steal(id); fn != nil {
				fn()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case fn := <-own:
				fn()
			}
		}
	}
}

func (p *Pool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// Run executes n jobs, distributing index i to worker i % Workers(), and
// waits for all of them. Jobs not started when ctx is cancelled are
// skipped and report ctx.Err(). A panicking job is reported as an error
// for its index. The returned error joins every job error.
func (p *Pool) Run(ctx context.Context, n int, job Job) error {
	p.submit.RLock()
	if !p.running.Load() {
		p.submit.RUnlock()
		return ErrClosed
	}
	if n <= 0 {
		p.submit.RUnlock()
		return nil
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		fn := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("parallel: job %d panicked: %v", i, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = job(ctx, i)
		}
		p.queues[i%p.workers] <- fn
	}
	p.submit.RUnlock()
	wg.Wait()
	return errors.Join(errs...)
}

// Close stops accepting work, finishes queued jobs and stops the workers.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.submit.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.submit.Unlock()
		return
	}
	close(p.done)
	p.submit.Unlock()
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return p.workers }

// Pending returns an approximate count of queued jobs.
func (p *Pool) Pending() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}
