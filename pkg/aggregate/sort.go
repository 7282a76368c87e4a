package aggregate

import (
	"sort"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
)

// SortAssignments orders assignments by due_at ascending. Assignments
// without a (parsable) due date go last, in their original order.
func SortAssignments(items []lms.Item) {
	sortByTime(items, "due_at", false)
}

// SortAnnouncements orders announcements by posted_at, newest first.
func SortAnnouncements(items []lms.Item) {
	sortByTime(items, "posted_at", true)
}

func sortByTime(items []lms.Item, key string, desc bool) {
	type keyed struct {
		t  time.Time
		ok bool
	}
	keys := make([]keyed, len(items))
	idx := make([]int, len(items))
	for i, it := range items {
		t, ok := lms.Time(it, key)
		keys[i] = keyed{t, ok}
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		switch {
		case !ka.ok:
			return false
		case !kb.ok:
			return true
		case desc:
			return ka.t.After(kb.t)
		default:
			return ka.t.Before(kb.t)
		}
	})

	sorted := make([]lms.Item, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}
