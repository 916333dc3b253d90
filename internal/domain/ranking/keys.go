// Package ranking implements the calories-burned leaderboards: the key
// scheme, the update fan-out, queries and category migration.
package ranking

import (
	"strings"
	"time"
)

const keyRoot = "rank"

// RankKey returns the store key of the leaderboard for (period, category, bucket).
//
//	global:   rank:global:{period}:{bucket}
//	category: rank:category:{category}:{period}:{bucket}
func RankKey(period Period, category Category, bucket string) string {
	var b strings.Builder
	b.Grow(len(keyRoot) + len(category) + len(period) + len(bucket) + 12)
	b.WriteString(keyRoot)
	if category.IsGlobal() {
		b.WriteString(":global:")
	} else {
		b.WriteString(":category:")
		b.WriteString(string(category))
		b.WriteByte(':')
	}
	b.WriteString(string(period))
	b.WriteByte(':')
	b.WriteString(bucket)
	return b.String()
}

// KeyFor resolves the leaderboard key holding date for period and category.
func KeyFor(period Period, category Category, date time.Time) string {
	return RankKey(period, category, period.Bucket(date))
}
