package actor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/c360/rulecore/errors"
)

// dispatcher runs mailbox turns on at most workers goroutines at a time.
// Submission never blocks; waiting turns acquire the semaphore in FIFO order.
type dispatcher struct {
	name string
	sem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(name string, workers int) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		name:   name,
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// submit schedules task. It returns false once the dispatcher is shut down.
func (d *dispatcher) submit(task func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		task()
	}()
	return true
}

// shutdown stops accepting tasks and waits for submitted ones. Tasks still
// waiting for a worker when ctx ends are abandoned.
func (d *dispatcher) shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return errors.WrapTransient(ctx.Err(), "dispatcher", "shutdown", "drain "+d.name)
	}
}
