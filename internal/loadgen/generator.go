package loadgen

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"github.com/okian/burnrank/internal/domain/ranking"
)

// duplicateEvery controls how often an already generated event is sent again.
const duplicateEvery = 100

// Batch is a generated workload plus the totals the service should end up with.
type Batch struct {
	Events []Event
	// Replays are resubmissions of events already in Events.
	Replays []Event
	// Totals maps user id to expected calories on the global board.
	Totals map[int64]float64
	// Categories maps user id to the category every event of that user carries.
	Categories map[int64]string
}

// Generate builds a deterministic workload for cfg. Calories are whole numbers
// so expected totals are exact regardless of the order the service adds them.
func Generate(cfg *Config) *Batch {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	b := &Batch{
		Events:     make([]Event, 0, cfg.Events),
		Totals:     make(map[int64]float64, cfg.Users),
		Categories: make(map[int64]string, cfg.Users),
	}
	for i := range cfg.Users {
		id := cfg.UserBase + int64(i)
		b.Categories[id] = string(ranking.Categories[i%len(ranking.Categories)])
	}

	for i := range cfg.Events {
		userID := cfg.UserBase + int64(rng.IntN(cfg.Users))
		calories := math.Floor(rng.Float64() * maxCaloriesPerEv)
		ev := Event{
			EventID:  uuid.NewString(),
			UserID:   userID,
			Calories: calories,
			Category: b.Categories[userID],
			Date:     cfg.Date,
		}
		b.Events = append(b.Events, ev)
		b.Totals[userID] += calories

		if (i+1)%duplicateEvery == 0 {
			b.Replays = append(b.Replays, b.Events[rng.IntN(len(b.Events))])
		}
	}
	return b
}

// Leaders returns up to n of the batch's users ordered the way a leaderboard
// orders them: calories descending, lower id first on ties.
func (b *Batch) Leaders(n int, category string) []int64 {
	ids := make([]int64, 0, len(b.Totals))
	for id := range b.Totals {
		if category != "" && b.Categories[id] != category {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, c := b.Totals[ids[i]], b.Totals[ids[j]]
		if a != c {
			return a > c
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
