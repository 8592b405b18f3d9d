package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job represents one unit of work handed to a pool.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// Result pairs a job with the error of its last attempt.
type Result struct {
	Job Job
	Err error
}

// PoolConfig configures worker pool behaviour.
type PoolConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Pool fans a batch of jobs out to a bounded number of goroutines and joins
// them before returning.
type Pool struct {
	name    string
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewPool builds a pool with the provided handler. MaxRetries of zero means a
// failed job is reported without another attempt.
func NewPool(name string, handler Handler, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Pool{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Run processes every job in batch and returns one result per job, in batch
// order. It returns only after all workers have exited.
func (p *Pool) Run(ctx context.Context, batch []Job) []Result {
	results := make([]Result, len(batch))
	if len(batch) == 0 {
		return results
	}

	workers := p.workers
	if workers > len(batch) {
		workers = len(batch)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, indexes, batch, results)
	}

	now := time.Now().UTC()
feed:
	for i := range batch {
		if batch[i].Enqueued.IsZero() {
			batch[i].Enqueued = now
		}
		select {
		case <-ctx.Done():
			for j := i; j < len(batch); j++ {
				results[j] = Result{Job: batch[j], Err: fmt.Errorf("pool %s stopped: %w", p.name, ctx.Err())}
			}
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	return results
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, indexes <-chan int, batch []Job, results []Result) {
	defer wg.Done()
	for i := range indexes {
		results[i] = p.process(ctx, batch[i])
	}
}

func (p *Pool) process(ctx context.Context, job Job) Result {
	for {
		err := p.invoke(ctx, job)
		if err == nil {
			return Result{Job: job}
		}
		if job.Attempt >= p.maxRetries || ctx.Err() != nil {
			if p.maxRetries > 0 {
				p.logger.Sugar().Errorw("job exceeded retries", "pool", p.name, "job_id", job.ID, "type", job.Type, "error", err)
			}
			return Result{Job: job, Err: err}
		}
		job.Attempt++
		p.logger.Sugar().Warnw("job failed, retrying", "pool", p.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Job: job, Err: err}
		case <-timer.C:
		}
	}
}

func (p *Pool) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return p.handler(ctx, job)
}
