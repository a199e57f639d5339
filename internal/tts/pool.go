package tts

import (
	"context"
	"sync"
)

// Executor runs blocking work away from the calling goroutine.
type Executor interface {
	Go(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Go(task func()) { f(task) }

// Pool is a bounded set of background workers. Tasks beyond the worker count
// wait for a free slot.
type Pool struct {
	sema chan struct{}
	wg   sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sema: make(chan struct{}, workers)}
}

func (p *Pool) Go(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sema <- struct{}{}
		defer func() { <-p.sema }()
		task()
	}()
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

type result[T any] struct {
	value T
	err   error
}

// offload schedules fn on ex and waits for it. If ctx ends first the caller
// gets ctx.Err() while fn keeps running to completion in the background.
func offload[T any](ctx context.Context, ex Executor, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan result[T], 1)
	ex.Go(func() {
		v, err := fn(ctx)
		done <- result[T]{value: v, err: err}
	})
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
