package engine

import (
	"sort"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
)

// Sorted returns the entries in promotion order: priority entries first,
// then ascending timestamp, then ascending ledger sequence. The sequence
// makes ordering a total order even when two entries share a timestamp.
func Sorted(entries []model.QueueEntry) []model.QueueEntry {
	out := make([]model.QueueEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Rank returns the user's 1-based position within the entries under
// promotion order, or 0 when the user is absent.
func Rank(entries []model.QueueEntry, userID string) int {
	for i, e := range Sorted(entries) {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}
