package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	eventqueue "github.com/okian/burnrank/internal/adapters/mq/queue"
	"github.com/okian/burnrank/internal/adapters/redis"
	"github.com/okian/burnrank/internal/adapters/repository"
	service "github.com/okian/burnrank/internal/app"
	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func exercise(id string, user int64, calories float64, category string) model.ExerciseEvent {
	return model.ExerciseEvent{
		EventID:  id,
		UserID:   user,
		Calories: calories,
		Category: category,
		Date:     fixedNow,
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("When getting stats before starting", func() {
			stats := svc.GetStats()

			Convey("Then it should report not started", func() {
				So(stats["started"], ShouldEqual, false)
			})
		})

		Convey("When calling operations before starting", func() {
			ctx := context.Background()

			Convey("Then they fail with ErrNotStarted", func() {
				So(errors.Is(svc.Enqueue(ctx, exercise("e1", 1, 10, "")), service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.Ready(ctx), service.ErrNotStarted), ShouldBeTrue)
				_, err := svc.TopRankings(ctx, ranking.Query{Period: ranking.PeriodDay})
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When starting and stopping the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			started := svc.GetStats()["started"]
			ready := svc.Ready(ctx)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it reports started while running and stopped afterwards", func() {
				So(started, ShouldEqual, true)
				So(ready, ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given a service with an unknown store backend", t, func() {
		svc := service.New(service.WithStoreBackend("cassandra"))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrUnknownBackend), ShouldBeTrue)
		})
	})
}

func TestService_EventsReachLeaderboards(t *testing.T) {
	Convey("Given a started in-memory service", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
			service.WithClock(fixedClock),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When events are enqueued", func() {
			So(svc.Enqueue(ctx, exercise("e1", 1, 300, "student")), ShouldBeNil)
			So(svc.Enqueue(ctx, exercise("e2", 2, 500, "office_worker")), ShouldBeNil)
			So(svc.Enqueue(ctx, exercise("e3", 1, 250, "student")), ShouldBeNil)

			Convey("Then today's global board reflects them", func() {
				ok := waitFor(func() bool {
					top, err := svc.TopRankings(ctx, ranking.Query{Period: ranking.PeriodDay})
					return err == nil && len(top) == 2 && top[0].Score == 550
				})
				So(ok, ShouldBeTrue)

				top, err := svc.TopRankings(ctx, ranking.Query{Period: ranking.PeriodDay})
				So(err, ShouldBeNil)
				So(top[0].UserID, ShouldEqual, 1)
				So(top[1].UserID, ShouldEqual, 2)
				So(top[1].Score, ShouldEqual, 500.0)
			})

			Convey("And the category boards and user lookups agree", func() {
				So(waitFor(func() bool {
					return svc.GetStats()["eventsProcessed"] == int64(3)
				}), ShouldBeTrue)

				ur, err := svc.UserRanking(ctx, 2, ranking.Query{Period: ranking.PeriodMonth, Category: "office_worker"})
				So(err, ShouldBeNil)
				So(ur.Ranked(), ShouldBeTrue)
				So(*ur.Rank, ShouldEqual, 1)
				So(*ur.Score, ShouldEqual, 500.0)

				none, err := svc.UserRanking(ctx, 2, ranking.Query{Period: ranking.PeriodMonth, Category: "student"})
				So(err, ShouldBeNil)
				So(none.Ranked(), ShouldBeFalse)
			})
		})

		Convey("When an invalid event is enqueued", func() {
			err := svc.Enqueue(ctx, exercise("bad", 0, 10, ""))

			Convey("Then it is rejected before reaching the queue", func() {
				So(errors.Is(err, ranking.ErrInvalidUser), ShouldBeTrue)
				So(svc.GetStats()["queueLength"], ShouldEqual, 0)
			})
		})

		Convey("When the same event id arrives twice", func() {
			first := svc.SeenAndRecord(ctx, "dup-1")
			second := svc.SeenAndRecord(ctx, "dup-1")
			svc.Unrecord(ctx, "dup-1")
			third := svc.SeenAndRecord(ctx, "dup-1")

			Convey("Then only the first is new until it is unrecorded", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(third, ShouldBeFalse)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a category change has no as-of date", func() {
			So(svc.RecordEvent(ctx, exercise("m1", 7, 120, "student")), ShouldBeNil)
			report, err := svc.MigrateCategory(ctx, model.CategoryChange{
				UserID:      7,
				OldCategory: "student",
				NewCategory: "fitness_pro",
			})

			Convey("Then today's buckets are moved", func() {
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, ranking.MigrationMoved)
				So(len(report.Moved), ShouldEqual, 3)

				ur, err := svc.UserRanking(ctx, 7, ranking.Query{Period: ranking.PeriodYear, Category: "fitness_pro"})
				So(err, ShouldBeNil)
				So(*ur.Score, ShouldEqual, 120.0)
			})
		})
	})
}

func TestService_ZoneDecidesToday(t *testing.T) {
	Convey("Given a service in a zone already on the next day", t, func() {
		ctx := context.Background()
		seoul, err := time.LoadLocation("Asia/Seoul")
		So(err, ShouldBeNil)
		svc := service.New(service.WithClock(fixedClock), service.WithLocation(seoul))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Then today is resolved in that zone", func() {
			So(svc.Today().Format("20060102"), ShouldEqual, "20240311")
			So(svc.Location().String(), ShouldEqual, "Asia/Seoul")
		})
	})
}

func TestService_StopDrainsQueue(t *testing.T) {
	Convey("Given a service over a store it does not own", t, func() {
		ctx := context.Background()
		store := repository.NewTreapStore(ctx)
		defer func() { _ = store.Close() }()

		svc := service.New(
			service.WithStore(store),
			service.WithWorkerCount(4),
			service.WithQueueSize(1000),
			service.WithClock(fixedClock),
		)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When many events are queued and the service stops", func() {
			for i := range 200 {
				So(svc.Enqueue(ctx, exercise(fmt.Sprintf("e%d", i), int64(i%10+1), 1, "")), ShouldBeNil)
			}
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := svc.Stop(stopCtx)

			Convey("Then every queued event was recorded and the store stays open", func() {
				So(err, ShouldBeNil)
				So(store.Ping(ctx), ShouldBeNil)
				score, ok, err := store.ScoreOf(ctx, ranking.KeyFor(ranking.PeriodDay, ranking.Global, fixedNow), "1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(score, ShouldEqual, 20.0)
			})
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose workers are blocked", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithStore(&blockingStore{Store: repository.NewTreapStore(ctx), release: make(chan struct{})}),
			service.WithWorkerCount(1),
			service.WithQueueSize(2),
			service.WithClock(fixedClock),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_ = svc.Stop(stopCtx)
		}()

		Convey("When more events arrive than the queue holds", func() {
			var errs []error
			for i := range 5 {
				errs = append(errs, svc.Enqueue(ctx, exercise(fmt.Sprintf("e%d", i), 1, 1, "")))
			}

			Convey("Then the overflow fails with ErrFull", func() {
				full := 0
				for _, err := range errs {
					if errors.Is(err, eventqueue.ErrFull) {
						full++
					}
				}
				So(full, ShouldBeGreaterThan, 0)
			})
		})
	})
}

// blockingStore holds every Exec until release is closed or ctx ends.
type blockingStore struct {
	repository.Store
	release chan struct{}
}

func (b *blockingStore) Exec(ctx context.Context, ops ...repository.Op) error {
	select {
	case <-b.release:
		return b.Store.Exec(ctx, ops...)
	case <-ctx.Done():
		return repository.ErrStoreUnavailable
	}
}

func TestService_RedisBackends(t *testing.T) {
	Convey("Given a service backed by redis", t, func() {
		mr := miniredis.RunT(t)
		ctx := context.Background()
		svc := service.New(
			service.WithStoreBackend(service.BackendRedis),
			service.WithDedupeBackend(service.BackendRedis),
			service.WithRedisConfig(redis.Config{Addr: mr.Addr(), DialTimeout: time.Second}),
			service.WithClock(fixedClock),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When an event is recorded", func() {
			So(svc.RecordEvent(ctx, exercise("r1", 42, 410, "health_care")), ShouldBeNil)

			Convey("Then it lands in redis sorted sets with a TTL", func() {
				key := ranking.KeyFor(ranking.PeriodDay, ranking.Global, fixedNow)
				score, err := mr.ZScore(key, "42")
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 410.0)
				So(mr.TTL(key), ShouldEqual, 7*24*time.Hour)
				So(mr.Exists(ranking.KeyFor(ranking.PeriodYear, ranking.Category("health_care"), fixedNow)), ShouldBeTrue)
			})
		})

		Convey("When an event id is marked seen", func() {
			So(svc.SeenAndRecord(ctx, "evt-9"), ShouldBeFalse)

			Convey("Then the mark is shared through redis", func() {
				So(svc.SeenAndRecord(ctx, "evt-9"), ShouldBeTrue)
				So(len(mr.Keys()), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When redis goes away", func() {
			mr.Close()

			Convey("Then readiness fails", func() {
				So(svc.Ready(ctx), ShouldNotBeNil)
			})
		})
	})
}
