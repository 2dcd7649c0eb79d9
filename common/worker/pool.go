package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/telemetry"
)

// Pool bounds how many CPU/IO-bound jobs (remote queries, hashing, zip)
// run at once. Jobs run on the caller's goroutine once a slot is free.
type Pool struct {
	sem       *semaphore.Weighted
	size      int64
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// NewPool creates a pool with size slots
func NewPool(size int, log *logger.Logger, tel *telemetry.Telemetry) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:       semaphore.NewWeighted(int64(size)),
		size:      int64(size),
		log:       log,
		telemetry: tel,
	}
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return int(p.size)
}

// Do waits for a free slot and runs job. ctx only bounds the wait for a
// slot; once started, job runs to completion.
func (p *Pool) Do(ctx context.Context, name string, job func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot for %s: %w", name, err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	defer p.telemetry.RecordDuration(name, start)

	p.log.Debug("worker job started", "job", name)
	return job()
}

// Go runs job on a new goroutine under the pool and returns a channel that
// receives its result exactly once.
func (p *Pool) Go(ctx context.Context, name string, job func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, name, job)
	}()
	return done
}
