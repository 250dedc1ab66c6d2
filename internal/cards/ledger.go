// Package cards owns the card lifecycle: creation, edits, lane moves, the
// live card feed of a board and cascade deletion.
package cards

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/models"
)

// Ledger reads and writes cards in a document store.
type Ledger struct {
	store docstore.Store
}

// NewLedger returns a Ledger over store.
func NewLedger(store docstore.Store) *Ledger {
	return &Ledger{store: store}
}

// Update is a partial card write. Nil fields are left untouched.
type Update struct {
	Text   *string
	LaneID *string
}

func (u Update) document() docstore.Document {
	doc := docstore.Document{}
	if u.Text != nil {
		doc["text"] = *u.Text
	}
	if u.LaneID != nil {
		doc["laneId"] = *u.LaneID
	}
	return doc
}

// AddCard inserts a card stamped with the store's clock. Text that is empty
// after trimming is rejected with apperr.ErrInvalid before any write.
func (l *Ledger) AddCard(ctx context.Context, boardID, laneID, text, authorEmail string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("cards: empty text: %w", apperr.ErrInvalid)
	}
	id, err := l.store.Insert(ctx, models.CardsCollection, docstore.Document{
		"boardId":     boardID,
		"laneId":      laneID,
		"text":        text,
		"authorEmail": authorEmail,
		"createdAt":   docstore.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("cards: add: %w", err)
	}
	return id, nil
}

// UpdateCard merges u into the card. Authorization is the caller's concern.
func (l *Ledger) UpdateCard(ctx context.Context, cardID string, u Update) error {
	doc := u.document()
	if len(doc) == 0 {
		return nil
	}
	if err := l.store.Update(ctx, models.CardsCollection, cardID, doc); err != nil {
		return fmt.Errorf("cards: update %s: %w", cardID, err)
	}
	return nil
}

// Card reads one card.
func (l *Ledger) Card(ctx context.Context, cardID string) (models.Card, error) {
	snap, err := l.store.Get(ctx, models.CardsCollection, cardID)
	if err != nil {
		return models.Card{}, fmt.Errorf("cards: get %s: %w", cardID, err)
	}
	var c models.Card
	if err := snap.Decode(&c); err != nil {
		return models.Card{}, err
	}
	return c, nil
}

// Watch streams the cards of a board, oldest first on every emission.
func (l *Ledger) Watch(ctx context.Context, boardID string) (*docstore.Subscription[[]models.Card], error) {
	sub, err := docstore.SubscribeQuery(ctx, l.store, models.CardsCollection,
		[]docstore.Filter{docstore.Where("boardId", boardID)}, decodeSorted)
	if err != nil {
		return nil, fmt.Errorf("cards: watch board %s: %w", boardID, err)
	}
	return sub, nil
}

// CardsByBoard returns every card of a board, oldest first.
func (l *Ledger) CardsByBoard(ctx context.Context, boardID string) ([]models.Card, error) {
	return l.query(ctx, docstore.Where("boardId", boardID))
}

// CardsByLane returns the cards of one lane, oldest first.
func (l *Ledger) CardsByLane(ctx context.Context, boardID, laneID string) ([]models.Card, error) {
	return l.query(ctx, docstore.Where("boardId", boardID), docstore.Where("laneId", laneID))
}

// CardsByAuthor returns every card authored by email across all boards.
func (l *Ledger) CardsByAuthor(ctx context.Context, email string) ([]models.Card, error) {
	return l.query(ctx, docstore.Where("authorEmail", email))
}

// DeleteCardsByLane deletes the cards of one lane concurrently and returns
// how many were targeted. A partial failure leaves the rest in place.
func (l *Ledger) DeleteCardsByLane(ctx context.Context, boardID, laneID string) (int, error) {
	cards, err := l.CardsByLane(ctx, boardID, laneID)
	if err != nil {
		return 0, err
	}
	return len(cards), l.deleteAll(ctx, cards)
}

// DeleteCardsByBoard deletes every card of a board concurrently.
func (l *Ledger) DeleteCardsByBoard(ctx context.Context, boardID string) (int, error) {
	cards, err := l.CardsByBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	return len(cards), l.deleteAll(ctx, cards)
}

func (l *Ledger) deleteAll(ctx context.Context, cards []models.Card) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, c := range cards {
		id := c.ID
		g.Go(func() error {
			if err := l.store.Delete(gctx, models.CardsCollection, id); err != nil {
				return fmt.Errorf("cards: delete %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *Ledger) query(ctx context.Context, filters ...docstore.Filter) ([]models.Card, error) {
	snaps, err := l.store.Query(ctx, models.CardsCollection, filters...)
	if err != nil {
		return nil, fmt.Errorf("cards: query: %w", err)
	}
	return decodeSorted(snaps)
}

func decodeSorted(snaps []docstore.Snapshot) ([]models.Card, error) {
	out := make([]models.Card, 0, len(snaps))
	for _, s := range snaps {
		var c models.Card
		if err := s.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	models.SortCardsByCreation(out)
	return out, nil
}
