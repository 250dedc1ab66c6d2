// Package boardservice wires the board components over one store and acts
// for the principal carried in each call's context. The HTTP, MCP and CLI
// surfaces all go through it.
package boardservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/boards"
	"github.com/starford/retroboard/internal/boardview"
	"github.com/starford/retroboard/internal/cards"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/identity"
	"github.com/starford/retroboard/internal/models"
	"github.com/starford/retroboard/internal/policy"
)

// BoardSummary is a board as listed on a principal's home screen.
type BoardSummary struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CreatorEmail string    `json:"creatorEmail"`
	CardsVisible bool      `json:"cardsVisible"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Service coordinates the registry, lanes and ledger.
type Service struct {
	store    docstore.Store
	registry *boards.Registry
	lanes    *boards.Lanes
	ledger   *cards.Ledger
	logger   *slog.Logger
}

// New builds a Service over store, wrapping it with the board access rules.
// store must not already be guarded.
func New(store docstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	guarded := docstore.NewGuard(store, policy.StoreRules())
	ledger := cards.NewLedger(guarded)
	return &Service{
		store:    guarded,
		registry: boards.NewRegistry(guarded, ledger),
		lanes:    boards.NewLanes(guarded, ledger),
		ledger:   ledger,
		logger:   logger,
	}
}

func principal(ctx context.Context) (string, error) {
	p, ok := identity.PrincipalFrom(ctx)
	if !ok {
		return "", fmt.Errorf("boardservice: %w", apperr.ErrUnauthenticated)
	}
	return p, nil
}

// CreateBoard creates a board owned by the caller.
func (s *Service) CreateBoard(ctx context.Context, name string) (boards.Created, error) {
	p, err := principal(ctx)
	if err != nil {
		return boards.Created{}, err
	}
	created, err := s.registry.CreateBoard(ctx, name, p)
	if err != nil {
		return boards.Created{}, err
	}
	s.logger.Info("board created", slog.String("id", created.ID), slog.String("code", created.Code), slog.String("by", p))
	return created, nil
}

// ListBoards returns the caller's boards, newest first.
func (s *Service) ListBoards(ctx context.Context) ([]BoardSummary, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.registry.UserBoards(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]BoardSummary, 0, len(list))
	for _, b := range list {
		out = append(out, summarize(b, p))
	}
	return out, nil
}

func summarize(b models.Board, p string) BoardSummary {
	return BoardSummary{
		ID:           b.ID,
		Code:         b.Code,
		Name:         b.Name,
		CreatorEmail: b.CreatorEmail,
		CardsVisible: b.CardsVisible,
		IsAdmin:      policy.IsAdmin(b, p),
		CreatedAt:    b.CreatedAt,
	}
}

// Open starts a live session on the board with the given code. The caller
// must Close it.
func (s *Service) Open(ctx context.Context, code string, n boardview.Notifier) (*boardview.Session, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	sess := boardview.New(boardview.Deps{
		Registry: s.registry,
		Lanes:    s.lanes,
		Ledger:   s.ledger,
		Notifier: n,
		Logger:   s.logger,
	}, p)
	if err := sess.Start(ctx, code); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// With runs fn on a session that lives for the duration of the call.
func (s *Service) With(ctx context.Context, code string, fn func(*boardview.Session) error) error {
	sess, err := s.Open(ctx, code, nil)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// ReadBoard returns the caller's redacted view of a board.
func (s *Service) ReadBoard(ctx context.Context, code string) (boardview.View, error) {
	var v boardview.View
	err := s.With(ctx, code, func(sess *boardview.Session) error {
		v = sess.View()
		return nil
	})
	return v, err
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}
