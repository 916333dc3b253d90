package repository

import (
	"sort"
	"strconv"
)

// memberBefore orders members that share a score: numeric ids ascending,
// numeric ids ahead of non-numeric ones, everything else lexicographic.
func memberBefore(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			return ai < bi
		}
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	}
	return a < b
}

// ranksBefore reports whether (aScore, aID) ranks ahead of (bScore, bID).
func ranksBefore(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return memberBefore(aID, bID)
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		return ranksBefore(ms[i].Score, ms[i].ID, ms[j].Score, ms[j].ID)
	})
}
