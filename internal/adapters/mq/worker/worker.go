// Package worker drains the intake queue into the ranking core.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/okian/burnrank/internal/adapters/repository"
	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/pkg/logger"
	"github.com/okian/burnrank/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	defaultEventTimeout     = 5 * time.Second
)

// ErrRecorderPanic wraps a panic raised while recording an event.
var ErrRecorderPanic = errors.New("recorder panicked")

// Event abstracts what workers read off the queue.
type Event = model.ExerciseEvent

// Recorder applies one exercise event to the leaderboards.
type Recorder interface {
	RecordEvent(ctx context.Context, ev model.ExerciseEvent) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
	Len(ctx context.Context) int
}

// Counters are shared by every worker of a pool.
type Counters struct {
	Processed atomic.Int64
	Failed    atomic.Int64
}

// InMemoryWorker reads events off the queue and hands them to the recorder.
// Failures are logged and counted; they never reach the event producer.
type InMemoryWorker struct {
	queue        Queue
	recorder     Recorder
	name         string
	eventTimeout time.Duration
	counters     *Counters
	logger       logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, recorder Recorder, counters *Counters, opts ...Option) *InMemoryWorker {
	if counters == nil {
		counters = &Counters{}
	}
	w := &InMemoryWorker{
		queue:        queue,
		recorder:     recorder,
		name:         "worker",
		eventTimeout: defaultEventTimeout,
		counters:     counters,
		logger:       logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes events until the queue is closed and drained or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.process(ctx, ev)
		}
	}
}

// process records one event. Failures, including a panicking recorder, are
// logged and counted and never stop the worker.
func (w *InMemoryWorker) process(ctx context.Context, ev Event) { //nolint:gocritic // hugeParam: channel semantics need a value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
		w.queue.Len(ctx)
	}()

	ctx, cancel := context.WithTimeout(ctx, w.eventTimeout)
	defer cancel()

	if err := w.record(ctx, ev); err != nil {
		w.counters.Failed.Add(1)
		metrics.RecordEventFailed()
		metrics.RecordErrorByComponent("worker", failureKind(err))
		w.logger.Error(ctx, "dropping exercise event",
			logger.String("event_id", ev.EventID),
			logger.Int64("user_id", ev.UserID),
			logger.Float64("calories", ev.Calories),
			logger.Error(err))
		return
	}
	w.counters.Processed.Add(1)
}

func (w *InMemoryWorker) record(ctx context.Context, ev Event) (err error) { //nolint:gocritic // hugeParam
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRecorderPanic, r)
		}
	}()
	return w.recorder.RecordEvent(ctx, ev)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "store_unavailable"
	case errors.Is(err, repository.ErrStoreCommand):
		return "store_command"
	case errors.Is(err, ErrRecorderPanic):
		return "panic"
	}
	return "invalid_event"
}

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *Counters
	wg       conc.WaitGroup
	started  atomic.Bool
	logger   logger.Logger
}

// NewPool creates a worker pool. workerCount < 1 picks a CPU-based default.
func NewPool(workerCount int, queue Queue, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		counters: &Counters{},
		logger:   logger.Named("worker-pool"),
	}
	for i := range p.workers {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, recorder, p.counters, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many events were recorded successfully.
func (p *Pool) Processed() int64 { return p.counters.Processed.Load() }

// Failed returns how many events were dropped.
func (p *Pool) Failed() int64 { return p.counters.Failed.Load() }

// Start launches every worker. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		p.wg.Go(func() { w.Run(ctx) })
	}
}

// Shutdown closes the queue when it supports closing and waits for the
// workers to drain it, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := p.wg.WaitAndRecover(); r != nil {
			p.logger.Error(ctx, "worker panicked", logger.String("panic", r.String()))
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out",
			logger.Int("pending", p.queue.Len(ctx)))
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}
