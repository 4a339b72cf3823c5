package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Stats is a snapshot of the pool.
type Stats struct {
	InUse    int64
	Waiting  int64
	MaxConns int64
	// Timeouts counts acquisitions that gave up after AcquireTimeout.
	Timeouts int64
}

// pool bounds the number of concurrent store operations.
type pool struct {
	sem     *semaphore.Weighted
	max     int64
	timeout time.Duration

	inUse    atomic.Int64
	waiting  atomic.Int64
	timeouts atomic.Int64
}

func newPool(max int64, timeout time.Duration) *pool {
	return &pool{sem: semaphore.NewWeighted(max), max: max, timeout: timeout}
}

// acquire takes a slot, waiting at most the acquire timeout. The returned
// release must be called exactly once.
func (p *pool) acquire(ctx context.Context, op string) (release func(), wait time.Duration, err error) {
	if p.sem.TryAcquire(1) {
		p.inUse.Add(1)
		return p.releaser(), 0, nil
	}

	start := time.Now()
	p.waiting.Add(1)
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	err = p.sem.Acquire(actx, 1)
	cancel()
	p.waiting.Add(-1)
	wait = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wait, &ConnectionError{Op: op, Err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.timeouts.Add(1)
			return nil, wait, &ConnectionError{Op: op, Err: fmt.Errorf("no connection available after %s", p.timeout)}
		}
		return nil, wait, &ConnectionError{Op: op, Err: err}
	}
	p.inUse.Add(1)
	return p.releaser(), wait, nil
}

func (p *pool) releaser() func() {
	var done atomic.Bool
	return func() {
		if done.Swap(true) {
			return
		}
		p.inUse.Add(-1)
		p.sem.Release(1)
	}
}

func (p *pool) stats() Stats {
	return Stats{
		InUse:    p.inUse.Load(),
		Waiting:  p.waiting.Load(),
		MaxConns: p.max,
		Timeouts: p.timeouts.Load(),
	}
}
