// Package boards owns the board lifecycle and the lane list embedded in each
// board document.
package boards

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/cards"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// GenerateCode draws a join code of independent uniform characters. Codes
// are not checked for uniqueness.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases a user-entered join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Created is what a caller needs to navigate to a new board.
type Created struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// Registry creates, looks up, lists and deletes boards.
type Registry struct {
	store  docstore.Store
	ledger *cards.Ledger
	// code is swappable in tests.
	code func() string
}

// NewRegistry returns a Registry over store. Board deletion cascades
// through ledger.
func NewRegistry(store docstore.Store, ledger *cards.Ledger) *Registry {
	return &Registry{store: store, ledger: ledger, code: GenerateCode}
}

// CreateBoard stores a new board with the seed lanes and hidden cards.
func (r *Registry) CreateBoard(ctx context.Context, name, creatorEmail string) (Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Created{}, fmt.Errorf("boards: empty name: %w", apperr.ErrInvalid)
	}
	code := r.code()
	id, err := r.store.Insert(ctx, models.BoardsCollection, docstore.Document{
		"code":         code,
		"name":         name,
		"creatorEmail": creatorEmail,
		"lanes":        models.SeedLanes(),
		"cardsVisible": false,
		"createdAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		return Created{}, fmt.Errorf("boards: create: %w", err)
	}
	return Created{ID: id, Code: code}, nil
}

// BoardByCode returns the first board with the given join code.
func (r *Registry) BoardByCode(ctx context.Context, code string) (models.Board, error) {
	code = NormalizeCode(code)
	if code == "" {
		return models.Board{}, fmt.Errorf("boards: empty code: %w", apperr.ErrNotFound)
	}
	snaps, err := r.store.Query(ctx, models.BoardsCollection, docstore.Where("code", code))
	if err != nil {
		return models.Board{}, fmt.Errorf("boards: lookup %s: %w", code, err)
	}
	if len(snaps) == 0 {
		return models.Board{}, fmt.Errorf("boards: code %s: %w", code, apperr.ErrNotFound)
	}
	return decodeBoard(snaps[0])
}

// Board reads a board by id.
func (r *Registry) Board(ctx context.Context, id string) (models.Board, error) {
	snap, err := r.store.Get(ctx, models.BoardsCollection, id)
	if err != nil {
		return models.Board{}, fmt.Errorf("boards: get %s: %w", id, err)
	}
	return decodeBoard(snap)
}

// WatchBoard streams a board document. A nil value means the board does not
// exist, for instance after it was deleted.
func (r *Registry) WatchBoard(ctx context.Context, id string) (*docstore.Subscription[*models.Board], error) {
	sub, err := docstore.SubscribeDocument(ctx, r.store, models.BoardsCollection, id,
		func(snap *docstore.Snapshot) (*models.Board, error) {
			if snap == nil {
				return nil, nil
			}
			b, err := decodeBoard(*snap)
			if err != nil {
				return nil, err
			}
			return &b, nil
		})
	if err != nil {
		return nil, fmt.Errorf("boards: watch %s: %w", id, err)
	}
	return sub, nil
}

// UserBoards returns the boards email created or wrote a card on, newest
// first. Boards that vanish while being gathered are skipped.
func (r *Registry) UserBoards(ctx context.Context, email string) ([]models.Board, error) {
	var (
		owned    []docstore.Snapshot
		authored []models.Card
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = r.store.Query(gctx, models.BoardsCollection, docstore.Where("creatorEmail", email))
		return err
	})
	g.Go(func() error {
		var err error
		authored, err = r.ledger.CardsByAuthor(gctx, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("boards: list for %s: %w", email, err)
	}

	out := make([]models.Board, 0, len(owned))
	seen := make(map[string]bool, len(owned))
	for _, s := range owned {
		b, err := decodeBoard(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		seen[b.ID] = true
	}

	var extra []string
	for _, c := range authored {
		if !seen[c.BoardID] {
			seen[c.BoardID] = true
			extra = append(extra, c.BoardID)
		}
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range extra {
		g.Go(func() error {
			b, err := r.Board(gctx, id)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, b)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("boards: list for %s: %w", email, err)
	}

	models.SortBoardsNewestFirst(out)
	return out, nil
}

// UpdateBoard merges partial into the board document.
func (r *Registry) UpdateBoard(ctx context.Context, id string, partial docstore.Document, opts ...docstore.WriteOption) error {
	if err := r.store.Update(ctx, models.BoardsCollection, id, partial, opts...); err != nil {
		return fmt.Errorf("boards: update %s: %w", id, err)
	}
	return nil
}

// SetCardsVisible writes the visibility gate.
func (r *Registry) SetCardsVisible(ctx context.Context, id string, visible bool) error {
	return r.UpdateBoard(ctx, id, docstore.Document{"cardsVisible": visible})
}

// DeleteBoard deletes the board's cards, then the board. If a card delete
// fails the board is kept so the delete can be retried.
func (r *Registry) DeleteBoard(ctx context.Context, id string) error {
	if _, err := r.ledger.DeleteCardsByBoard(ctx, id); err != nil {
		return fmt.Errorf("boards: delete %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, models.BoardsCollection, id); err != nil {
		return fmt.Errorf("boards: delete %s: %w", id, err)
	}
	return nil
}

func decodeBoard(s docstore.Snapshot) (models.Board, error) {
	var b models.Board
	if err := s.Decode(&b); err != nil {
		return models.Board{}, err
	}
	return b, nil
}
