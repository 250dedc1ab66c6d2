package boardview

import (
	"time"

	"github.com/starford/retroboard/internal/models"
	"github.com/starford/retroboard/internal/policy"
)

// View is the presentation model of a session, already redacted for its
// principal.
type View struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	CardsVisible bool       `json:"cardsVisible"`
	IsAdmin      bool       `json:"isAdmin"`
	Lanes        []LaneView `json:"lanes"`
}

// LaneView is a lane with its cards, oldest first.
type LaneView struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Order int        `json:"order"`
	Cards []CardView `json:"cards"`
}

// CardView is a card as its viewer may see it. Hidden cards carry neither
// text nor author.
type CardView struct {
	ID          string    `json:"id"`
	LaneID      string    `json:"laneId"`
	Text        string    `json:"text,omitempty"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	Hidden      bool      `json:"hidden"`
	Editable    bool      `json:"editable"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State returns the lifecycle stage.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Principal returns the principal the session acts for.
func (s *Session) Principal() string { return s.principal }

// Board returns the latest board snapshot.
func (s *Session) Board() models.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board
}

// Deleted reports whether the board stream has reported the board gone.
func (s *Session) Deleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted
}

// IsAdmin reports whether the principal created the board. It is decided
// once when the session starts.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

// Cards returns the latest card list, oldest first, unredacted.
func (s *Session) Cards() []models.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Card, len(s.cards))
	copy(out, s.cards)
	return out
}

// CardsForLane returns the cards currently in a lane, oldest first.
func (s *Session) CardsForLane(laneID string) []models.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Card
	for _, c := range s.cards {
		if c.LaneID == laneID {
			out = append(out, c)
		}
	}
	return out
}

// CardCountForLane is the number of cards a lane deletion would remove.
func (s *Session) CardCountForLane(laneID string) int {
	return len(s.CardsForLane(laneID))
}

// CanSeeContent reports whether the principal may read the card's text.
func (s *Session) CanSeeContent(c models.Card) bool {
	return policy.CanSeeContent(s.Board(), s.principal, c)
}

// CanEdit reports whether the principal may edit or move the card.
func (s *Session) CanEdit(c models.Card) bool {
	return policy.CanEdit(s.principal, c)
}

// Editing returns the ids of the card and lane in edit mode, if any.
func (s *Session) Editing() (cardID, laneID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editingCard, s.editingLane
}

// View builds the redacted presentation model from the latest snapshots.
func (s *Session) View() View {
	s.mu.RLock()
	b := s.board
	cs := s.cards
	isAdmin := s.isAdmin
	s.mu.RUnlock()

	v := View{
		ID:           b.ID,
		Code:         b.Code,
		Name:         b.Name,
		CardsVisible: b.CardsVisible,
		IsAdmin:      isAdmin,
		Lanes:        []LaneView{},
	}
	byLane := make(map[string][]CardView)
	for _, c := range cs {
		cv := CardView{
			ID:        c.ID,
			LaneID:    c.LaneID,
			Editable:  policy.CanEdit(s.principal, c),
			CreatedAt: c.CreatedAt,
		}
		if policy.CanSeeContent(b, s.principal, c) {
			cv.Text = c.Text
			cv.AuthorEmail = c.AuthorEmail
		} else {
			cv.Hidden = true
		}
		byLane[c.LaneID] = append(byLane[c.LaneID], cv)
	}
	for _, l := range b.OrderedLanes() {
		lcards := byLane[l.ID]
		if lcards == nil {
			lcards = []CardView{}
		}
		v.Lanes = append(v.Lanes, LaneView{ID: l.ID, Name: l.Name, Order: l.Order, Cards: lcards})
	}
	return v
}
