package engine

import (
	"testing"
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRankPriorityBeatsTimestamp(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t1.Add(2 * time.Minute)

	entries := []model.QueueEntry{
		{ID: "e1", UserID: "alice", Priority: true, CreatedAt: t2, Seq: 1},
		{ID: "e2", UserID: "bob", Priority: false, CreatedAt: t1, Seq: 2},
		{ID: "e3", UserID: "carol", Priority: true, CreatedAt: t3, Seq: 3},
	}

	// Priority entries rank strictly ahead of non-priority ones regardless
	// of timestamp; within equal priority the earlier timestamp wins.
	assert.Equal(t, 1, Rank(entries, "alice"))
	assert.Equal(t, 2, Rank(entries, "carol"))
	assert.Equal(t, 3, Rank(entries, "bob"))
}

func TestRankEqualTimestampsFallBackToSeq(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.QueueEntry{
		{ID: "e2", UserID: "bob", CreatedAt: at, Seq: 2},
		{ID: "e1", UserID: "alice", CreatedAt: at, Seq: 1},
	}
	assert.Equal(t, 1, Rank(entries, "alice"))
	assert.Equal(t, 2, Rank(entries, "bob"))
}

func TestRankAbsentUser(t *testing.T) {
	entries := []model.QueueEntry{{ID: "e1", UserID: "alice", Seq: 1}}
	assert.Equal(t, 0, Rank(entries, "nobody"))
	assert.Equal(t, 0, Rank(nil, "alice"))
}

func TestSortedIsStableAndDoesNotMutate(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.QueueEntry{
		{ID: "e2", UserID: "bob", CreatedAt: t1.Add(time.Minute), Seq: 2},
		{ID: "e1", UserID: "alice", CreatedAt: t1, Seq: 1},
	}
	sorted := Sorted(entries)
	assert.Equal(t, "e1", sorted[0].ID)
	assert.Equal(t, "e2", entries[0].ID, "input order untouched")
}
