// Package boardview is the live per-board session: it loads a board by join
// code, follows the board and card streams, and exposes the board's
// mutating operations behind the access policy.
//
// Gate and validation rejections are returned as apperr.ErrForbidden and
// apperr.ErrInvalid without touching the store or the Notifier. Store
// failures are logged, reported to the Notifier, and returned; the local
// state is left for the streams to correct.
package boardview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/boards"
	"github.com/starford/retroboard/internal/cards"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/models"
	"github.com/starford/retroboard/internal/policy"
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateLoading State = iota
	StateActive
	StateNotFound
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateNotFound:
		return "not-found"
	case StateTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(msg string) { f(msg) }

type discardNotifier struct{}

func (discardNotifier) Notify(string) {}

// Deps are the collaborators of a Session.
type Deps struct {
	Registry *boards.Registry
	Lanes    *boards.Lanes
	Ledger   *cards.Ledger
	Notifier Notifier
	Logger   *slog.Logger
}

// Session is one principal's view of one board.
type Session struct {
	deps      Deps
	principal string
	logger    *slog.Logger

	mu          sync.RWMutex
	state       State
	board       models.Board
	cards       []models.Card
	isAdmin     bool
	deleted     bool
	editingCard string
	editingLane string

	boardSub *docstore.Subscription[*models.Board]
	cardSub  *docstore.Subscription[[]models.Card]
	changes  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New returns a Session in the loading state acting for principal.
func New(deps Deps, principal string) *Session {
	if deps.Notifier == nil {
		deps.Notifier = discardNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		deps:      deps,
		principal: principal,
		logger:    deps.Logger.With(slog.String("principal", principal)),
		state:     StateLoading,
		changes:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start loads the board with the given join code and opens its streams.
// The streams live until Close or until ctx is done.
func (s *Session) Start(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.state != StateLoading {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("boardview: start: session %s: %w", st, apperr.ErrInvalid)
	}
	s.mu.Unlock()

	code = boards.NormalizeCode(code)
	if code == "" {
		s.setState(StateNotFound)
		return fmt.Errorf("boardview: no board code: %w", apperr.ErrNotFound)
	}

	b, err := s.deps.Registry.BoardByCode(ctx, code)
	if err != nil {
		s.setState(StateNotFound)
		if errors.Is(err, apperr.ErrNotFound) {
			s.deps.Notifier.Notify("Board not found.")
			return fmt.Errorf("boardview: %w", err)
		}
		return s.fail("load board", "Error loading board.", err)
	}

	boardSub, err := s.deps.Registry.WatchBoard(ctx, b.ID)
	if err != nil {
		s.setState(StateNotFound)
		return s.fail("watch board", "Error loading board.", err)
	}
	cardSub, err := s.deps.Ledger.Watch(ctx, b.ID)
	if err != nil {
		boardSub.Close()
		s.setState(StateNotFound)
		return s.fail("watch cards", "Error loading cards.", err)
	}

	s.mu.Lock()
	if s.state == StateTornDown {
		// Close ran while the streams were opening.
		s.mu.Unlock()
		boardSub.Close()
		cardSub.Close()
		return fmt.Errorf("boardview: start: session closed: %w", apperr.ErrInvalid)
	}
	s.board = b
	s.isAdmin = policy.IsAdmin(b, s.principal)
	s.boardSub = boardSub
	s.cardSub = cardSub
	s.state = StateActive
	s.mu.Unlock()

	// Both first values are already buffered; take them before returning so
	// accessors are populated as soon as Start succeeds.
	s.applyBoard(<-boardSub.Updates())
	s.applyCards(<-cardSub.Updates())

	go s.run()
	s.logger.Debug("boardview: session active", slog.String("board", b.ID), slog.String("code", code))
	return nil
}

func (s *Session) run() {
	defer close(s.done)
	boardUpdates, cardUpdates := s.boardSub.Updates(), s.cardSub.Updates()
	boardErrs, cardErrs := s.boardSub.Errors(), s.cardSub.Errors()

	for boardUpdates != nil || cardUpdates != nil {
		select {
		case b, ok := <-boardUpdates:
			if !ok {
				boardUpdates = nil
				continue
			}
			s.applyBoard(b)
		case cs, ok := <-cardUpdates:
			if !ok {
				cardUpdates = nil
				continue
			}
			s.applyCards(cs)
		case err, ok := <-boardErrs:
			if !ok {
				boardErrs = nil
				continue
			}
			s.logger.Warn("boardview: board stream", slog.String("error", err.Error()))
		case err, ok := <-cardErrs:
			if !ok {
				cardErrs = nil
				continue
			}
			s.logger.Warn("boardview: card stream", slog.String("error", err.Error()))
		}
	}

	// The streams also end when the Start context is cancelled.
	s.setState(StateTornDown)
	close(s.changes)
}

func (s *Session) applyBoard(b *models.Board) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if b == nil {
		s.deleted = true
	} else {
		s.board = *b
		s.deleted = false
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Session) applyCards(cs []models.Card) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.cards = cs
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// setState moves to st unless the session is already torn down.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateTornDown {
		s.state = st
	}
	s.mu.Unlock()
}

// Close tears the session down and waits for its streams to stop. Safe to
// call more than once and on a session that never started.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		started := s.boardSub != nil
		s.state = StateTornDown
		s.mu.Unlock()
		if !started {
			close(s.changes)
			return
		}
		s.boardSub.Close()
		s.cardSub.Close()
		<-s.done
	})
}

// Changes delivers a signal after the board or cards changed. Signals
// coalesce; the channel is closed once the session is torn down.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// fail logs and reports a store failure and returns it wrapped.
func (s *Session) fail(op, msg string, err error) error {
	s.logger.Error("boardview: "+op, slog.String("board", s.boardID()), slog.String("error", err.Error()))
	s.deps.Notifier.Notify(msg + " Please try again.")
	return fmt.Errorf("boardview: %s: %w", op, err)
}

func (s *Session) boardID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.ID
}

// active snapshots the state a mutation needs, refusing outside StateActive.
func (s *Session) active(op string) (models.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateActive {
		return models.Board{}, fmt.Errorf("boardview: %s: session %s: %w", op, s.state, apperr.ErrInvalid)
	}
	return s.board, nil
}

func (s *Session) requireAdmin(op string) (models.Board, error) {
	b, err := s.active(op)
	if err != nil {
		return b, err
	}
	if !s.IsAdmin() {
		return b, fmt.Errorf("boardview: %s: admin only: %w", op, apperr.ErrForbidden)
	}
	return b, nil
}

func (s *Session) findCard(cardID string) (models.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cards {
		if c.ID == cardID {
			return c, true
		}
	}
	return models.Card{}, false
}

// AddCard adds a card authored by the session principal.
func (s *Session) AddCard(ctx context.Context, laneID, text string) (string, error) {
	b, err := s.active("add card")
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("boardview: add card: empty text: %w", apperr.ErrInvalid)
	}
	if !b.HasLane(laneID) {
		return "", fmt.Errorf("boardview: add card: no lane %s: %w", laneID, apperr.ErrInvalid)
	}
	id, err := s.deps.Ledger.AddCard(ctx, b.ID, laneID, text, s.principal)
	if err != nil {
		return "", s.fail("add card", "Error adding card.", err)
	}
	return id, nil
}

// ToggleVisibility flips the board's cardsVisible gate. Admin only.
func (s *Session) ToggleVisibility(ctx context.Context) error {
	b, err := s.requireAdmin("toggle visibility")
	if err != nil {
		return err
	}
	return s.writeVisibility(ctx, b, !b.CardsVisible)
}

// SetCardsVisible sets the gate to visible, writing only when it differs.
// Admin only.
func (s *Session) SetCardsVisible(ctx context.Context, visible bool) error {
	b, err := s.requireAdmin("set visibility")
	if err != nil {
		return err
	}
	if b.CardsVisible == visible {
		return nil
	}
	return s.writeVisibility(ctx, b, visible)
}

func (s *Session) writeVisibility(ctx context.Context, b models.Board, visible bool) error {
	if err := s.deps.Registry.SetCardsVisible(ctx, b.ID, visible); err != nil {
		return s.fail("set visibility", "Error updating visibility.", err)
	}
	return nil
}

// AddLane appends a lane. Admin only.
func (s *Session) AddLane(ctx context.Context, name string) (models.Lane, error) {
	b, err := s.requireAdmin("add lane")
	if err != nil {
		return models.Lane{}, err
	}
	if strings.TrimSpace(name) == "" {
		return models.Lane{}, fmt.Errorf("boardview: add lane: empty name: %w", apperr.ErrInvalid)
	}
	lane, err := s.deps.Lanes.AddLane(ctx, b.ID, name)
	if err != nil {
		return models.Lane{}, s.fail("add lane", "Error adding lane.", err)
	}
	return lane, nil
}

// StartEdit marks a card as being edited. Only its author may.
func (s *Session) StartEdit(cardID string) error {
	if _, err := s.active("start edit"); err != nil {
		return err
	}
	c, ok := s.findCard(cardID)
	if !ok {
		return fmt.Errorf("boardview: start edit: card %s: %w", cardID, apperr.ErrNotFound)
	}
	if !policy.CanEdit(s.principal, c) {
		return fmt.Errorf("boardview: start edit: not the author: %w", apperr.ErrForbidden)
	}
	s.mu.Lock()
	s.editingCard = cardID
	s.mu.Unlock()
	return nil
}

// CancelEdit leaves card edit mode without writing.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	s.editingCard = ""
	s.mu.Unlock()
}

// SaveEdit writes text to the card being edited and leaves edit mode.
func (s *Session) SaveEdit(ctx context.Context, text string) error {
	s.mu.RLock()
	cardID := s.editingCard
	s.mu.RUnlock()
	if cardID == "" {
		return fmt.Errorf("boardview: save edit: nothing being edited: %w", apperr.ErrInvalid)
	}
	if err := s.EditCard(ctx, cardID, text); err != nil {
		return err
	}
	s.CancelEdit()
	return nil
}

// EditCard replaces the text of a card. Only its author may.
func (s *Session) EditCard(ctx context.Context, cardID, text string) error {
	if _, err := s.active("edit card"); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("boardview: edit card: empty text: %w", apperr.ErrInvalid)
	}
	c, ok := s.findCard(cardID)
	if !ok {
		return fmt.Errorf("boardview: edit card: card %s: %w", cardID, apperr.ErrNotFound)
	}
	if !policy.CanEdit(s.principal, c) {
		return fmt.Errorf("boardview: edit card: not the author: %w", apperr.ErrForbidden)
	}
	if err := s.deps.Ledger.UpdateCard(ctx, cardID, cards.Update{Text: &text}); err != nil {
		return s.fail("edit card", "Error updating card.", err)
	}
	return nil
}

// DropCard moves a card to another lane. Dropping onto the card's own lane
// does nothing. Only the author may move a card.
func (s *Session) DropCard(ctx context.Context, cardID, laneID string) error {
	b, err := s.active("drop card")
	if err != nil {
		return err
	}
	c, ok := s.findCard(cardID)
	if !ok {
		return fmt.Errorf("boardview: drop card: card %s: %w", cardID, apperr.ErrNotFound)
	}
	if c.LaneID == laneID {
		return nil
	}
	if !policy.CanEdit(s.principal, c) {
		return fmt.Errorf("boardview: drop card: not the author: %w", apperr.ErrForbidden)
	}
	if !b.HasLane(laneID) {
		return fmt.Errorf("boardview: drop card: no lane %s: %w", laneID, apperr.ErrInvalid)
	}
	if err := s.deps.Ledger.UpdateCard(ctx, cardID, cards.Update{LaneID: &laneID}); err != nil {
		return s.fail("move card", "Error moving card.", err)
	}
	return nil
}

// StartEditLane marks a lane as being renamed. Admin only.
func (s *Session) StartEditLane(laneID string) error {
	b, err := s.requireAdmin("start edit lane")
	if err != nil {
		return err
	}
	if !b.HasLane(laneID) {
		return fmt.Errorf("boardview: start edit lane: lane %s: %w", laneID, apperr.ErrNotFound)
	}
	s.mu.Lock()
	s.editingLane = laneID
	s.mu.Unlock()
	return nil
}

// CancelEditLane leaves lane edit mode without writing.
func (s *Session) CancelEditLane() {
	s.mu.Lock()
	s.editingLane = ""
	s.mu.Unlock()
}

// SaveEditLane renames the lane being edited and leaves edit mode.
func (s *Session) SaveEditLane(ctx context.Context, name string) error {
	s.mu.RLock()
	laneID := s.editingLane
	s.mu.RUnlock()
	if laneID == "" {
		return fmt.Errorf("boardview: save edit lane: nothing being edited: %w", apperr.ErrInvalid)
	}
	if err := s.RenameLane(ctx, laneID, name); err != nil {
		return err
	}
	s.CancelEditLane()
	return nil
}

// RenameLane renames a lane. Admin only.
func (s *Session) RenameLane(ctx context.Context, laneID, name string) error {
	b, err := s.requireAdmin("rename lane")
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("boardview: rename lane: empty name: %w", apperr.ErrInvalid)
	}
	if !b.HasLane(laneID) {
		return fmt.Errorf("boardview: rename lane: lane %s: %w", laneID, apperr.ErrNotFound)
	}
	if err := s.deps.Lanes.UpdateLane(ctx, b.ID, laneID, name); err != nil {
		return s.fail("rename lane", "Error renaming lane.", err)
	}
	return nil
}

// DeleteLane removes a lane and its cards, returning how many cards went
// with it. Admin only; callers confirm first using CardCountForLane.
func (s *Session) DeleteLane(ctx context.Context, laneID string) (int, error) {
	b, err := s.requireAdmin("delete lane")
	if err != nil {
		return 0, err
	}
	if !b.HasLane(laneID) {
		return 0, fmt.Errorf("boardview: delete lane: lane %s: %w", laneID, apperr.ErrNotFound)
	}
	n, err := s.deps.Lanes.DeleteLane(ctx, b.ID, laneID)
	if err != nil {
		return n, s.fail("delete lane", "Error deleting lane.", err)
	}
	return n, nil
}

// DeleteBoard deletes the board and its cards. Admin only.
func (s *Session) DeleteBoard(ctx context.Context) error {
	b, err := s.requireAdmin("delete board")
	if err != nil {
		return err
	}
	if err := s.deps.Registry.DeleteBoard(ctx, b.ID); err != nil {
		return s.fail("delete board", "Error deleting board.", err)
	}
	return nil
}
