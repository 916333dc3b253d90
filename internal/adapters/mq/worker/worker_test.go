package worker_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/burnrank/internal/adapters/mq/queue"
	worker "github.com/okian/burnrank/internal/adapters/mq/worker"
	"github.com/okian/burnrank/internal/adapters/repository"
	model "github.com/okian/burnrank/internal/domain/model"
	logging "github.com/okian/burnrank/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.Init(logging.WithWriter(io.Discard))
	os.Exit(m.Run())
}

// mockRecorder records every event it sees and fails for configured users.
type mockRecorder struct {
	mu     sync.Mutex
	events []model.ExerciseEvent
	fail   map[int64]error
	panics map[int64]bool
	delay  time.Duration
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{fail: make(map[int64]error), panics: make(map[int64]bool)}
}

func (m *mockRecorder) RecordEvent(ctx context.Context, ev model.ExerciseEvent) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics[ev.UserID] {
		panic("Mixing no-slot and cross slot commands in DoMulti is prohibited")
	}
	if err, ok := m.fail[ev.UserID]; ok {
		return err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func ev(id string, userID int64) model.ExerciseEvent {
	return model.ExerciseEvent{
		EventID:  id,
		UserID:   userID,
		Calories: 100,
		Date:     time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newMockRecorder()
		counters := &worker.Counters{}
		w := worker.NewInMemoryWorker(q, rec, counters, worker.WithName("test"))

		done := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(done)
		}()

		convey.Convey("When events are queued", func() {
			convey.So(q.Enqueue(ctx, ev("e1", 1)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, ev("e2", 2)), convey.ShouldBeNil)

			convey.Convey("Then they reach the recorder", func() {
				convey.So(waitFor(func() bool { return rec.count() == 2 }), convey.ShouldBeTrue)
				convey.So(counters.Processed.Load(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the recorder fails", func() {
			rec.fail[3] = repository.ErrStoreUnavailable
			convey.So(q.Enqueue(ctx, ev("e3", 3)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, ev("e4", 4)), convey.ShouldBeNil)

			convey.Convey("Then the failure is counted and the worker keeps going", func() {
				convey.So(waitFor(func() bool { return counters.Failed.Load() == 1 && rec.count() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the recorder panics", func() {
			rec.panics[5] = true
			convey.So(q.Enqueue(ctx, ev("e5", 5)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, ev("e6", 6)), convey.ShouldBeNil)

			convey.Convey("Then the event is counted as failed and the worker survives", func() {
				convey.So(waitFor(func() bool { return counters.Failed.Load() == 1 && rec.count() == 1 }), convey.ShouldBeTrue)
				select {
				case <-done:
					convey.So("worker exited", convey.ShouldBeEmpty)
				default:
				}
			})
		})

		convey.Convey("When the queue is closed", func() {
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then the worker exits", func() {
				exited := false
				select {
				case <-done:
					exited = true
				case <-time.After(time.Second):
				}
				convey.So(exited, convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerEventTimeout(t *testing.T) {
	convey.Convey("Given a recorder slower than the event timeout", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newMockRecorder()
		rec.delay = time.Second
		counters := &worker.Counters{}
		w := worker.NewInMemoryWorker(q, rec, counters, worker.WithEventTimeout(20*time.Millisecond))
		go w.Run(ctx)

		convey.So(q.Enqueue(ctx, ev("slow", 1)), convey.ShouldBeNil)

		convey.Convey("Then the event is dropped as failed", func() {
			convey.So(waitFor(func() bool { return counters.Failed.Load() == 1 }), convey.ShouldBeTrue)
			convey.So(rec.count(), convey.ShouldEqual, 0)
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of 4 workers", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		rec := newMockRecorder()
		pool := worker.NewPool(4, q, rec)
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		pool.Start(ctx)
		pool.Start(ctx)

		convey.Convey("When many events are queued and the pool shuts down", func() {
			for i := 0; i < 500; i++ {
				convey.So(q.Enqueue(ctx, ev(fmt.Sprintf("e%d", i), int64(i+1))), convey.ShouldBeNil)
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then every queued event is drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.count(), convey.ShouldEqual, 500)
				convey.So(pool.Processed(), convey.ShouldEqual, 500)
				convey.So(pool.Failed(), convey.ShouldEqual, 0)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool whose recorder never finishes", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newMockRecorder()
		rec.delay = time.Minute
		pool := worker.NewPool(1, q, rec, worker.WithEventTimeout(time.Minute))
		pool.Start(ctx)
		convey.So(q.Enqueue(ctx, ev("stuck", 1)), convey.ShouldBeNil)

		convey.Convey("When shutdown has a short deadline", func() {
			time.Sleep(10 * time.Millisecond)
			shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then it returns the deadline error", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})

	convey.Convey("Given a pool with no explicit size", t, func() {
		pool := worker.NewPool(0, queue.NewInMemoryQueue(), newMockRecorder())

		convey.Convey("Then it picks a CPU-based default", func() {
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}
