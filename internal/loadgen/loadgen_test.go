package loadgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/burnrank/internal/adapters/http/api"
	service "github.com/okian/burnrank/internal/app"
	"github.com/okian/burnrank/internal/domain/types"
	"github.com/okian/burnrank/internal/loadgen"
	"github.com/okian/burnrank/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func testConfig(url string) *loadgen.Config {
	return &loadgen.Config{
		BaseURL:  url,
		Events:   400,
		Users:    40,
		UserBase: 1000,
		Workers:  8,
		Timeout:  2 * time.Second,
		Settle:   5 * time.Second,
		TopN:     10,
		Date:     "2024-03-10",
		Seed:     42,
	}
}

func startService(t *testing.T) *httptest.Server {
	t.Helper()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := service.New(service.WithWorkerCount(4), service.WithClock(func() time.Time { return now }))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc).Register(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return srv
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded config", t, func() {
		cfg := testConfig("http://unused")

		Convey("When a batch is generated", func() {
			b := loadgen.Generate(cfg)

			Convey("Then it holds every event and whole-calorie totals", func() {
				So(len(b.Events), ShouldEqual, cfg.Events)
				So(len(b.Replays), ShouldEqual, cfg.Events/100)

				sum := 0.0
				for _, ev := range b.Events {
					So(ev.UserID, ShouldBeBetweenOrEqual, cfg.UserBase, cfg.UserBase+int64(cfg.Users)-1)
					So(ev.Calories, ShouldEqual, float64(int64(ev.Calories)))
					So(ev.Category, ShouldEqual, b.Categories[ev.UserID])
					So(ev.Date, ShouldEqual, cfg.Date)
					sum += ev.Calories
				}
				total := 0.0
				for _, v := range b.Totals {
					total += v
				}
				So(total, ShouldEqual, sum)
			})

			Convey("Then leaders follow leaderboard order", func() {
				leaders := b.Leaders(5, "")
				So(len(leaders), ShouldEqual, 5)
				for i := 1; i < len(leaders); i++ {
					prev, cur := b.Totals[leaders[i-1]], b.Totals[leaders[i]]
					So(prev, ShouldBeGreaterThanOrEqualTo, cur)
					if prev == cur {
						So(leaders[i-1], ShouldBeLessThan, leaders[i])
					}
				}
			})

			Convey("Then category leaders belong to that category", func() {
				for _, id := range b.Leaders(3, "student") {
					So(b.Categories[id], ShouldEqual, "student")
				}
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Given load configs", t, func() {
		Convey("When the config is complete", func() {
			So(testConfig("http://x").Validate(), ShouldBeNil)
		})

		Convey("When a setting is unusable", func() {
			for _, mutate := range []func(*loadgen.Config){
				func(c *loadgen.Config) { c.BaseURL = "" },
				func(c *loadgen.Config) { c.Events = 0 },
				func(c *loadgen.Config) { c.Users = -1 },
				func(c *loadgen.Config) { c.Workers = 0 },
				func(c *loadgen.Config) { c.Date = "10/03/2024" },
			} {
				cfg := testConfig("http://x")
				mutate(cfg)
				So(errors.Is(cfg.Validate(), loadgen.ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}

func TestVerifyOrder(t *testing.T) {
	Convey("Given leaderboard entries", t, func() {
		Convey("When they are ordered with ties broken by id", func() {
			entries := []types.Entry{
				{Rank: 1, UserID: 9, Score: 500},
				{Rank: 2, UserID: 3, Score: 300},
				{Rank: 3, UserID: 4, Score: 300},
			}
			So(loadgen.VerifyOrder(entries), ShouldBeNil)
		})

		Convey("When a tie puts the higher id first", func() {
			entries := []types.Entry{
				{Rank: 1, UserID: 4, Score: 300},
				{Rank: 2, UserID: 3, Score: 300},
			}
			So(errors.Is(loadgen.VerifyOrder(entries), loadgen.ErrVerification), ShouldBeTrue)
		})

		Convey("When scores rise down the board", func() {
			entries := []types.Entry{
				{Rank: 1, UserID: 1, Score: 100},
				{Rank: 2, UserID: 2, Score: 200},
			}
			So(errors.Is(loadgen.VerifyOrder(entries), loadgen.ErrVerification), ShouldBeTrue)
		})

		Convey("When ranks skip", func() {
			entries := []types.Entry{{Rank: 2, UserID: 1, Score: 100}}
			So(errors.Is(loadgen.VerifyOrder(entries), loadgen.ErrVerification), ShouldBeTrue)
		})
	})
}

func TestVerifyTotals(t *testing.T) {
	Convey("Given a batch with known totals", t, func() {
		b := &loadgen.Batch{Totals: map[int64]float64{1: 100, 2: 50}}

		Convey("When the board agrees and holds a foreign user", func() {
			checked, err := loadgen.VerifyTotals([]types.Entry{
				{Rank: 1, UserID: 77, Score: 900},
				{Rank: 2, UserID: 1, Score: 100},
			}, b)
			So(err, ShouldBeNil)
			So(checked, ShouldEqual, 1)
		})

		Convey("When the board disagrees", func() {
			_, err := loadgen.VerifyTotals([]types.Entry{{Rank: 1, UserID: 2, Score: 40}}, b)
			So(errors.Is(err, loadgen.ErrVerification), ShouldBeTrue)
		})

		Convey("When a batch user is unranked", func() {
			err := loadgen.VerifyUser(&types.UserRanking{UserID: 1}, b)
			So(errors.Is(err, loadgen.ErrVerification), ShouldBeTrue)
		})
	})
}

func TestClientSubmitRetries(t *testing.T) {
	Convey("Given a service that throttles twice", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(loadgen.Ack{Status: "accepted", EventID: "e1"})
		}))
		defer srv.Close()

		client := loadgen.NewClient(srv.URL+"/", time.Second)

		Convey("When an event is submitted", func() {
			ack, retries, err := client.Submit(context.Background(), loadgen.Event{EventID: "e1", UserID: 1, Calories: 10})

			Convey("Then it is retried until accepted", func() {
				So(err, ShouldBeNil)
				So(retries, ShouldEqual, 2)
				So(ack.Status, ShouldEqual, "accepted")
				So(calls.Load(), ShouldEqual, int32(3))
			})
		})
	})

	Convey("Given a service that rejects the event", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"code":"bad_request"}`, http.StatusBadRequest)
		}))
		defer srv.Close()

		_, _, err := loadgen.NewClient(srv.URL, time.Second).Submit(context.Background(), loadgen.Event{EventID: "e1"})

		Convey("Then it fails without retrying", func() {
			So(errors.Is(err, loadgen.ErrUnexpectedStatus), ShouldBeTrue)
			So(calls.Load(), ShouldEqual, int32(1))
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running burnrank service", t, func() {
		srv := startService(t)
		cfg := testConfig(srv.URL)
		cfg.Output = filepath.Join(t.TempDir(), "out", "events.json")

		Convey("When a load run completes", func() {
			stats, err := loadgen.Run(context.Background(), cfg)

			Convey("Then every event is applied and the boards verify", func() {
				So(err, ShouldBeNil)
				So(stats.Generated, ShouldEqual, cfg.Events)
				So(stats.Accepted, ShouldEqual, int64(cfg.Events))
				So(stats.Duplicates, ShouldEqual, int64(cfg.Events/100))
				So(stats.Failed, ShouldEqual, int64(0))
				So(stats.Mismatches, ShouldEqual, 0)
			})

			Convey("Then the events are saved", func() {
				raw, err := os.ReadFile(cfg.Output)
				So(err, ShouldBeNil)
				var saved []loadgen.Event
				So(json.Unmarshal(raw, &saved), ShouldBeNil)
				So(len(saved), ShouldEqual, cfg.Events)
			})
		})
	})

	Convey("Given no service", t, func() {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Timeout = 200 * time.Millisecond

		Convey("Then the run fails its readiness check", func() {
			_, err := loadgen.Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
		})
	})
}
