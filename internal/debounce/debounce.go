// Package debounce coalesces bursts of calls into a single invocation.
package debounce

import (
	"context"
	"sync"
	"time"
)

type result[T any] struct {
	val T
	err error
}

// Debouncer delays fn until no Call has arrived for the configured delay. The
// latest argument wins and every caller in the burst receives the same result.
type Debouncer[A, T any] struct {
	fn    func(ctx context.Context, arg A) (T, error)
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	ctx     context.Context
	arg     A
	waiters []chan result[T]
}

// New creates a Debouncer around fn.
func New[A, T any](delay time.Duration, fn func(ctx context.Context, arg A) (T, error)) *Debouncer[A, T] {
	return &Debouncer[A, T]{fn: fn, delay: delay}
}

// Call schedules fn with arg and waits for the coalesced result. If ctx ends first
// Call returns ctx.Err(); the scheduled invocation still runs for the other callers.
func (d *Debouncer[A, T]) Call(ctx context.Context, arg A) (T, error) {
	ch := make(chan result[T], 1)

	d.mu.Lock()
	d.ctx = ctx
	d.arg = arg
	d.waiters = append(d.waiters, ch)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
	d.mu.Unlock()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pending reports how many callers are waiting on the next invocation.
func (d *Debouncer[A, T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

func (d *Debouncer[A, T]) fire() {
	d.mu.Lock()
	if len(d.waiters) == 0 {
		d.mu.Unlock()
		return
	}
	ctx := context.WithoutCancel(d.ctx)
	arg := d.arg
	waiters := d.waiters
	d.waiters = nil
	d.timer = nil
	d.mu.Unlock()

	val, err := d.fn(ctx, arg)
	for _, ch := range waiters {
		ch <- result[T]{val: val, err: err}
	}
}
