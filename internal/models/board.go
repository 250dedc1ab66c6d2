// Package models defines the domain types of the retrospective board.
package models

import (
	"sort"
	"time"
)

// Collection names in the document store.
const (
	BoardsCollection = "boards"
	CardsCollection  = "cards"
)

// Board is a single retrospective session. Lanes are embedded in the board
// document and are not independently addressable.
type Board struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CreatorEmail string    `json:"creatorEmail"`
	Lanes        []Lane    `json:"lanes"`
	CardsVisible bool      `json:"cardsVisible"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Lane is a named column of a board. Order is assigned at append time and is
// never renumbered, so gaps are normal after a delete.
type Lane struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Card is a single note authored by one principal and located in one lane.
type Card struct {
	ID          string    `json:"id"`
	BoardID     string    `json:"boardId"`
	LaneID      string    `json:"laneId"`
	Text        string    `json:"text"`
	AuthorEmail string    `json:"authorEmail"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SeedLanes returns the lanes every new board starts with.
func SeedLanes() []Lane {
	return []Lane{
		{ID: "1", Name: "Good", Order: 0},
		{ID: "2", Name: "Bad", Order: 1},
		{ID: "3", Name: "Improve", Order: 2},
	}
}

// Lane returns the lane with the given id.
func (b *Board) Lane(id string) (Lane, bool) {
	for _, l := range b.Lanes {
		if l.ID == id {
			return l, true
		}
	}
	return Lane{}, false
}

// HasLane reports whether the board currently holds a lane with the given id.
func (b *Board) HasLane(id string) bool {
	_, ok := b.Lane(id)
	return ok
}

// OrderedLanes returns a copy of the lanes sorted by display order.
func (b *Board) OrderedLanes() []Lane {
	out := make([]Lane, len(b.Lanes))
	copy(out, b.Lanes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// SortCardsByCreation sorts cards ascending by creation time. Cards without a
// timestamp sort first; ties fall back to the id so the order is stable
// across emissions.
func SortCardsByCreation(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i].CreatedAt, cards[j].CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return cards[i].ID < cards[j].ID
	})
}

// SortBoardsNewestFirst sorts boards descending by creation time. Boards
// without a timestamp sort last.
func SortBoardsNewestFirst(boards []Board) {
	sort.SliceStable(boards, func(i, j int) bool {
		a, b := boards[i].CreatedAt, boards[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return boards[i].ID < boards[j].ID
	})
}
