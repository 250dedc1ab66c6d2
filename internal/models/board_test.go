package models

import (
	"testing"
	"time"
)

func TestSeedLanes(t *testing.T) {
	lanes := SeedLanes()
	want := []string{"Good", "Bad", "Improve"}
	if len(lanes) != len(want) {
		t.Fatalf("lanes = %d, want %d", len(lanes), len(want))
	}
	for i, l := range lanes {
		if l.Name != want[i] || l.Order != i {
			t.Errorf("lane %d = %+v", i, l)
		}
	}
}

func TestOrderedLanesWithGaps(t *testing.T) {
	b := Board{Lanes: []Lane{{ID: "c", Order: 5}, {ID: "a", Order: 0}, {ID: "b", Order: 2}}}
	got := b.OrderedLanes()
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("order = %v", got)
	}
	if b.Lanes[0].ID != "c" {
		t.Error("OrderedLanes must not reorder the board in place")
	}
}

func TestSortCardsMissingTimestampFirst(t *testing.T) {
	now := time.Now()
	cards := []Card{
		{ID: "late", CreatedAt: now.Add(time.Minute)},
		{ID: "none"},
		{ID: "early", CreatedAt: now},
	}
	SortCardsByCreation(cards)
	if cards[0].ID != "none" || cards[1].ID != "early" || cards[2].ID != "late" {
		t.Errorf("order = %s %s %s", cards[0].ID, cards[1].ID, cards[2].ID)
	}
}

func TestSortBoardsNewestFirst(t *testing.T) {
	now := time.Now()
	boards := []Board{
		{ID: "none"},
		{ID: "old", CreatedAt: now.Add(-time.Hour)},
		{ID: "new", CreatedAt: now},
	}
	SortBoardsNewestFirst(boards)
	if boards[0].ID != "new" || boards[1].ID != "old" || boards[2].ID != "none" {
		t.Errorf("order = %s %s %s", boards[0].ID, boards[1].ID, boards[2].ID)
	}
}
