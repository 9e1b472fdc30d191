package command

import "strings"

//nolint:gochecknoglobals // Fixed lookup tables
var (
	prioritySynonyms = map[string]string{
		"high": "high", "urgent": "high", "urgently": "high", "critical": "high",
		"asap": "high", "important": "high", "top": "high",
		"medium": "medium", "normal": "medium", "moderate": "medium", "mid": "medium",
		"low": "low", "minor": "low", "trivial": "low", "someday": "low",
	}

	categorySynonyms = map[string]string{
		"work": "work", "job": "work", "office": "work",
		"personal": "personal", "home": "personal", "family": "personal", "household": "personal",
		"shopping": "shopping", "groceries": "shopping", "errands": "shopping",
		"health": "health", "fitness": "health",
		"finance": "finance", "bills": "finance", "money": "finance",
		"school": "school",
	}

	statusSynonyms = map[string]string{
		"completed": "completed", "done": "completed", "finished": "completed",
		"pending": "pending", "open": "pending", "incomplete": "pending", "outstanding": "pending",
		"remaining": "pending", "unfinished": "pending",
	}
)

func lookup(table map[string]string, value string) (string, bool) {
	v, ok := table[strings.ToLower(strings.TrimSpace(value))]
	return v, ok
}

// NormalizePriority maps a priority word onto high, medium or low.
func NormalizePriority(value string) (string, bool) { return lookup(prioritySynonyms, value) }

// NormalizeCategory maps a category word onto a known category.
func NormalizeCategory(value string) (string, bool) { return lookup(categorySynonyms, value) }

// NormalizeStatus maps a status word onto completed or pending.
func NormalizeStatus(value string) (string, bool) { return lookup(statusSynonyms, value) }
