package ranking

import "strings"

// Category is an identity cohort with its own leaderboards.
// The zero value means the global scope.
type Category string

// Known categories.
const (
	CategoryStudent      Category = "student"
	CategoryOfficeWorker Category = "office_worker"
	CategoryFlexible     Category = "flexible"
	CategoryFitnessPro   Category = "fitness_pro"
	CategoryHealthCare   Category = "health_care"

	Global Category = ""
)

// Categories lists the closed set of category labels.
var Categories = []Category{ //nolint:gochecknoglobals // closed set
	CategoryStudent,
	CategoryOfficeWorker,
	CategoryFlexible,
	CategoryFitnessPro,
	CategoryHealthCare,
}

// ParseCategory normalizes a label and reports whether it is a known category.
// Empty and unknown labels return Global and false.
func ParseCategory(label string) (Category, bool) {
	c := Category(normalizeLabel(label))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return Global, false
}

// IsGlobal reports whether c addresses the global leaderboard.
func (c Category) IsGlobal() bool { return c == Global }

// Scope is the metrics/log label for c.
func (c Category) Scope() string {
	if c.IsGlobal() {
		return "global"
	}
	return string(c)
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
