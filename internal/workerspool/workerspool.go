// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0
// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs indexed tasks on a bounded number of goroutines.
//
// It is used to preprocess image batches concurrently: each task writes to its own output slot,
// so completion order never changes which result lands at which position.
package workerspool

import (
	"context"
	"runtime"
	"sync"
)

// Pool limits the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	// 0 means tasks run inline, and a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the limit of tasks running at the same time.
// 0 means parallelism is disabled, -1 means it is unlimited.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism sets the limit of tasks running at the same time. It returns the Pool, so calls
// can be chained.
//
// It should only be changed while no tasks are running.
func (p *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	p.maxParallelism = maxParallelism
	return p
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with p.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// waitToStart blocks until a worker is available and then runs task in a new goroutine.
func (p *Pool) waitToStart(task func()) {
	if p.maxParallelism < 0 {
		go task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// ForEach calls fn(i) for every i in [0, n), with at most MaxParallelism calls running at once,
// and waits for all of them to finish.
//
// The first error returned by fn stops scheduling of further indices and is returned once the
// in-flight calls finish. If ctx is cancelled, scheduling also stops and ctx.Err() is returned.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int) error) error {
	if p.maxParallelism == 0 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i := range n {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		p.waitToStart(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := fn(i); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		})
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
