// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines used by device kernels.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers used to run kernel chunks in parallel.
type Pool struct {
	// maxParallelism is a target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the current limit of goroutines running tasks.
// If 0 parallelism is disabled and every task runs inline.
// If -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// NumChunks returns the number of chunks ParallelFor splits numItems into, for the given grain.
func NumChunks(numItems, grain int) int {
	if numItems <= 0 {
		return 0
	}
	if grain <= 0 {
		grain = 1
	}
	return (numItems + grain - 1) / grain
}

// ParallelFor calls fn(chunkIdx, start, end) for every chunk of at most grain items in [0, numItems),
// and waits for all of them to finish.
//
// The chunking depends only on numItems and grain, never on the parallelism of the pool, so
// kernels that write per-chunk results produce the same output regardless of the number of workers.
//
// A panic in any chunk is re-thrown (the first one) in the calling goroutine, after all chunks finished.
func (w *Pool) ParallelFor(numItems, grain int, fn func(chunkIdx, start, end int)) {
	numChunks := NumChunks(numItems, grain)
	if numChunks == 0 {
		return
	}
	if grain <= 0 {
		grain = 1
	}
	if numChunks == 1 || !w.IsEnabled() {
		for chunkIdx := range numChunks {
			start := chunkIdx * grain
			fn(chunkIdx, start, min(start+grain, numItems))
		}
		return
	}

	var (
		wg          sync.WaitGroup
		muPanic     sync.Mutex
		firstPanic  any
		panicRaised bool
	)
	wg.Add(numChunks)
	for chunkIdx := range numChunks {
		start := chunkIdx * grain
		end := min(start+grain, numItems)
		w.WaitToStart(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					muPanic.Lock()
					if !panicRaised {
						firstPanic, panicRaised = r, true
					}
					muPanic.Unlock()
				}
			}()
			fn(chunkIdx, start, end)
		})
	}
	wg.Wait()
	if panicRaised {
		panic(firstPanic)
	}
}
