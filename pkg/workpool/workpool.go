// Package workpool runs a fixed list of tasks on a bounded number of
// goroutines and gathers one Outcome per task.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Options configures Run.
type Options struct {
	// Workers bounds the number of tasks running at once. Values below 1 mean 1.
	Workers int

	// Timeout bounds each task. Zero means no per-task deadline.
	Timeout time.Duration
}

// Func processes one item.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Outcome pairs a task's result with the item it was dispatched for.
type Outcome[T, R any] struct {
	// Index is the item's position in the input slice.
	Index int
	Item  T
	Value R
	Err   error
}

// PanicError is the error of a task that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Run calls fn once per item using at most opts.Workers goroutines and blocks
// until every item has an Outcome.
//
// Outcomes arrive in completion order; use Index or Item to relate them to the
// input. Once ctx is done, items that have not started are not run and report
// ctx.Err(). Tasks already running receive the cancelled context.
func Run[T, R any](ctx context.Context, opts Options, items []T, fn Func[T, R]) []Outcome[T, R] {
	if len(items) == 0 {
		return []Outcome[T, R]{}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  T
	}

	jobs := make(chan job)
	results := make(chan Outcome[T, R], len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- runOne(ctx, opts.Timeout, j.index, j.item, fn)
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i, it := range items {
			select {
			case jobs <- job{index: i, item: it}:
			case <-ctx.Done():
				for k := i; k < len(items); k++ {
					results <- Outcome[T, R]{Index: k, Item: items[k], Err: ctx.Err()}
				}
				return
			}
		}
	}()

	outcomes := make([]Outcome[T, R], 0, len(items))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func runOne[T, R any](ctx context.Context, timeout time.Duration, index int, item T, fn Func[T, R]) (o Outcome[T, R]) {
	o = Outcome[T, R]{Index: index, Item: item}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.Err = &PanicError{Value: r}
		}
	}()

	o.Value, o.Err = fn(ctx, item)
	return o
}
