// Package task manages the long-running goroutines of the bus controller and
// the event hub: start them under a shared context, stop them together, and
// wait for them to drain.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-xnet/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task: manager already stopped")

// LoopFunc is one iteration of a looping task.
// It returns true to continue running, or false to stop the goroutine.
type LoopFunc func(ctx context.Context) bool

// Manager manages the lifecycle of goroutines.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.StartLoop("dispatcher", func(ctx context.Context) bool {
//	    // ... one iteration ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.Mutex // serializes task creation against Stop
}

// NewManager creates a Manager whose tasks are cancelled with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all tasks.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Go runs fn once in a new goroutine. fn must return when ctx is done.
func (mgr *Manager) Go(name string, fn func(ctx context.Context)) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.logger.Debug("start task", "name", name)
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "taskCount", mgr.TaskCount())
		}()

		mgr.callWithRecover(name, func() { fn(mgr.ctx) })
	}()

	return nil
}

// StartLoop runs fn repeatedly until it returns false or the manager stops.
func (mgr *Manager) StartLoop(name string, fn LoopFunc) error {
	return mgr.Go(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !fn(ctx) {
					return
				}
			}
		}
	})
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}
