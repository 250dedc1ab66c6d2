package api

import (
	"github.com/starford/retroboard/internal/boards"
	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/boardview"
	"github.com/starford/retroboard/internal/models"
)

// CreateBoardRequest is the request body for creating a board.
type CreateBoardRequest struct {
	Name string `json:"name" example:"Sprint 42 retro" validate:"required"`
}

// CreateBoardResponse carries the new board's id and join code.
type CreateBoardResponse = boards.Created

// BoardListResponse wraps the principal's boards.
type BoardListResponse struct {
	Boards []boardservice.BoardSummary `json:"boards" validate:"required"`
}

// BoardView is the redacted board returned by reads and the event stream.
type BoardView = boardview.View

// VisibilityRequest sets whether card content is revealed.
type VisibilityRequest struct {
	CardsVisible *bool `json:"cardsVisible" validate:"required"`
}

// VisibilityResponse reports the requested visibility.
type VisibilityResponse struct {
	CardsVisible bool `json:"cardsVisible"`
}

// LaneRequest is the body for adding or renaming a lane.
type LaneRequest struct {
	Name string `json:"name" example:"Kudos" validate:"required"`
}

// LaneResponse is a lane as stored on the board.
type LaneResponse = models.Lane

// DeleteLaneResponse reports how many cards went with the lane.
type DeleteLaneResponse struct {
	DeletedCards int `json:"deletedCards"`
}

// CreateCardRequest is the body for adding a card.
type CreateCardRequest struct {
	LaneID string `json:"laneId" validate:"required"`
	Text   string `json:"text" example:"Standups ran long" validate:"required"`
}

// CreateCardResponse carries the new card's id.
type CreateCardResponse struct {
	ID string `json:"id"`
}

// UpdateCardRequest edits a card's text, moves it to another lane, or both.
type UpdateCardRequest struct {
	Text   *string `json:"text,omitempty"`
	LaneID *string `json:"laneId,omitempty"`
}
