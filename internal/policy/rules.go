package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/models"
)

// StoreRules enforces the board and card predicates at the store, against
// the exact document being written.
func StoreRules() docstore.Ruleset {
	return docstore.Ruleset{
		models.BoardsCollection: {
			Read:   allowAuthenticated,
			Create: createBoard,
			Update: updateBoard,
			Delete: deleteBoard,
		},
		models.CardsCollection: {
			Read:   allowAuthenticated,
			Create: createCard,
			Update: updateCard,
			Delete: deleteCard,
		},
	}
}

// The Guard has already refused unauthenticated callers.
func allowAuthenticated(context.Context, docstore.Request) error { return nil }

func createBoard(_ context.Context, req docstore.Request) error {
	b, err := decodeBoard(req.Doc)
	if err != nil {
		return err
	}
	if b.CreatorEmail != req.Principal {
		return errors.New("creatorEmail must be the caller")
	}
	if v, ok := req.Doc["cardsVisible"].(bool); !ok || v {
		return errors.New("new boards start with cards hidden")
	}
	return nil
}

func updateBoard(_ context.Context, req docstore.Request) error {
	if err := requireAdmin(req.Existing.Data, req.Principal); err != nil {
		return err
	}
	for _, field := range []string{"creatorEmail", "code"} {
		if req.Changed(field) {
			return fmt.Errorf("%s is immutable", field)
		}
	}
	return nil
}

func deleteBoard(_ context.Context, req docstore.Request) error {
	return requireAdmin(req.Existing.Data, req.Principal)
}

func createCard(ctx context.Context, req docstore.Request) error {
	c, err := decodeCard(req.Doc)
	if err != nil {
		return err
	}
	if c.AuthorEmail != req.Principal {
		return errors.New("authorEmail must be the caller")
	}
	return requireLane(ctx, req.Store, c.BoardID, c.LaneID)
}

func updateCard(ctx context.Context, req docstore.Request) error {
	before, err := decodeCard(req.Existing.Data)
	if err != nil {
		return err
	}
	if !CanEdit(req.Principal, before) {
		return errors.New("only the author may change a card")
	}
	for _, field := range []string{"boardId", "authorEmail"} {
		if req.Changed(field) {
			return fmt.Errorf("%s is immutable", field)
		}
	}
	if req.Changed("laneId") {
		after, err := decodeCard(req.Doc)
		if err != nil {
			return err
		}
		return requireLane(ctx, req.Store, after.BoardID, after.LaneID)
	}
	return nil
}

// deleteCard lets the author or the board admin delete, which covers the
// lane and board cascades.
func deleteCard(ctx context.Context, req docstore.Request) error {
	c, err := decodeCard(req.Existing.Data)
	if err != nil {
		return err
	}
	if c.AuthorEmail == req.Principal {
		return nil
	}
	snap, err := req.Store.Get(ctx, models.BoardsCollection, c.BoardID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return errors.New("only the author may delete a card of a missing board")
		}
		return err
	}
	return requireAdmin(snap.Data, req.Principal)
}

func requireAdmin(boardDoc docstore.Document, principal string) error {
	b, err := decodeBoard(boardDoc)
	if err != nil {
		return err
	}
	if !IsAdmin(b, principal) {
		return errors.New("only the board admin may do this")
	}
	return nil
}

func requireLane(ctx context.Context, store docstore.Store, boardID, laneID string) error {
	snap, err := store.Get(ctx, models.BoardsCollection, boardID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("board %s does not exist", boardID)
		}
		return err
	}
	b, err := decodeBoard(snap.Data)
	if err != nil {
		return err
	}
	if !b.HasLane(laneID) {
		return fmt.Errorf("board %s has no lane %s", boardID, laneID)
	}
	return nil
}

func decodeBoard(doc docstore.Document) (models.Board, error) {
	var b models.Board
	err := docstore.Snapshot{Data: doc}.Decode(&b)
	return b, err
}

func decodeCard(doc docstore.Document) (models.Card, error) {
	var c models.Card
	err := docstore.Snapshot{Data: doc}.Decode(&c)
	return c, err
}
