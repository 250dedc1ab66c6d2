package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/boardview"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *boardservice.Service
	logger *slog.Logger
	cfg    routerConfig
}

// NewHandler creates a new Handler.
func NewHandler(svc *boardservice.Service, logger *slog.Logger, opts ...RouterOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := defaultRouterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handler{svc: svc, logger: logger, cfg: cfg}
}

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*boardview.Session) error) {
	code := chi.URLParam(r, "code")
	if err := h.svc.With(r.Context(), code, fn); err != nil {
		writeError(w, r, err)
	}
}

// CreateBoard handles POST /api/boards.
//
//	@Summary		Create a board with the default lanes
//	@Tags			boards
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateBoardRequest	true	"Board to create"
//	@Success		201		{object}	CreateBoardResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Router			/boards [post]
func (h *Handler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var req CreateBoardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := h.svc.CreateBoard(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListBoards handles GET /api/boards.
//
//	@Summary		List boards the caller owns or has contributed to
//	@Tags			boards
//	@Produce		json
//	@Success		200	{object}	BoardListResponse
//	@Router			/boards [get]
func (h *Handler) ListBoards(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListBoards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BoardListResponse{Boards: list})
}

// GetBoard handles GET /api/boards/{code}.
//
//	@Summary		Read a board, hidden cards redacted
//	@Tags			boards
//	@Produce		json
//	@Param			code	path		string	true	"Join code"
//	@Param			If-None-Match	header	string	false	"ETag of a previously read view"
//	@Success		200		{object}	BoardView
//	@Success		304
//	@Failure		404		{object}	errResponse
//	@Router			/boards/{code} [get]
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *boardview.Session) error {
		return writeTaggedJSON(w, r, s.View())
	})
}

// DeleteBoard handles DELETE /api/boards/{code}.
func (h *Handler) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *boardview.Session) error {
		if err := s.DeleteBoard(r.Context()); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

// SetVisibility handles PUT /api/boards/{code}/visibility.
//
//	@Summary		Reveal or hide card content (board admin only)
//	@Tags			boards
//	@Accept			json
//	@Produce		json
//	@Param			code	path		string				true	"Join code"
//	@Param			body	body		VisibilityRequest	true	"Desired visibility"
//	@Success		200		{object}	VisibilityResponse
//	@Failure		403		{object}	errResponse
//	@Router			/boards/{code}/visibility [put]
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CardsVisible == nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("cardsVisible is required"))
		return
	}
	h.withSession(w, r, func(s *boardview.Session) error {
		if err := s.SetCardsVisible(r.Context(), *req.CardsVisible); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, VisibilityResponse{CardsVisible: *req.CardsVisible})
		return nil
	})
}

// AddLane handles POST /api/boards/{code}/lanes.
func (h *Handler) AddLane(w http.ResponseWriter, r *http.Request) {
	var req LaneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withSession(w, r, func(s *boardview.Session) error {
		lane, err := s.AddLane(r.Context(), req.Name)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, lane)
		return nil
	})
}

// RenameLane handles PATCH /api/boards/{code}/lanes/{laneID}.
func (h *Handler) RenameLane(w http.ResponseWriter, r *http.Request) {
	var req LaneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	laneID := chi.URLParam(r, "laneID")
	h.withSession(w, r, func(s *boardview.Session) error {
		if err := s.RenameLane(r.Context(), laneID, req.Name); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

// DeleteLane handles DELETE /api/boards/{code}/lanes/{laneID}.
//
//	@Summary		Delete a lane and every card in it (board admin only)
//	@Tags			lanes
//	@Produce		json
//	@Param			code	path		string	true	"Join code"
//	@Param			laneID	path		string	true	"Lane id"
//	@Success		200		{object}	DeleteLaneResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/boards/{code}/lanes/{laneID} [delete]
func (h *Handler) DeleteLane(w http.ResponseWriter, r *http.Request) {
	laneID := chi.URLParam(r, "laneID")
	h.withSession(w, r, func(s *boardview.Session) error {
		n, err := s.DeleteLane(r.Context(), laneID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, DeleteLaneResponse{DeletedCards: n})
		return nil
	})
}

// AddCard handles POST /api/boards/{code}/cards.
func (h *Handler) AddCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withSession(w, r, func(s *boardview.Session) error {
		id, err := s.AddCard(r.Context(), req.LaneID, req.Text)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, CreateCardResponse{ID: id})
		return nil
	})
}

// UpdateCard handles PATCH /api/boards/{code}/cards/{cardID}. The text is
// applied before the move when both are given.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req UpdateCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == nil && req.LaneID == nil {
		writeError(w, r, fmt.Errorf("text or laneId is required: %w", apperr.ErrInvalid))
		return
	}
	cardID := chi.URLParam(r, "cardID")
	h.withSession(w, r, func(s *boardview.Session) error {
		if req.Text != nil {
			if err := s.EditCard(r.Context(), cardID, *req.Text); err != nil {
				return err
			}
		}
		if req.LaneID != nil {
			if err := s.DropCard(r.Context(), cardID, *req.LaneID); err != nil {
				return err
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}
