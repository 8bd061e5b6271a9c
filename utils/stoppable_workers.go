// Package utils contains small helpers shared by the background loops of the game.
package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a later time.
//
// Stop must not be called from inside one of the workers; it waits for every worker
// to return.
type StoppableWorkers struct {
	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	workers := &StoppableWorkers{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.Add(funcs...)
	return workers
}

// NewTickerWorker calls fn every interval of clk until the workers are stopped or fn
// returns false.
func NewTickerWorker(clk clock.Clock, interval time.Duration, fn func(context.Context) bool) *StoppableWorkers {
	ticker := clk.Ticker(interval)
	return NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if ctx.Err() != nil {
				return
			}
			if !fn(ctx) {
				return
			}
		}
	})
}

// Add starts up additional goroutines for each function passed in. If you call this after
// calling Stop(), it will return immediately without starting any new goroutines.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.activeBackgroundWorkers.Done()
			f(sw.cancelCtx)
		})
	}
}

// Stop shuts down all the goroutines we started up. It is safe to call more than once
// and on a nil receiver.
func (sw *StoppableWorkers) Stop() {
	if sw == nil {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.activeBackgroundWorkers.Wait()
}

// Cancel cancels the workers' context without waiting for them to return. Workers
// blocked in a call that ignores the context keep running until that call returns.
func (sw *StoppableWorkers) Cancel() {
	if sw == nil {
		return
	}
	sw.cancelFunc()
}

// Context gets the context the workers are checking on.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.cancelCtx
}
