package boards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/cards"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/models"
)

// laneRetries bounds the re-read and re-apply cycles of one lane mutation.
const laneRetries = 5

// Lanes edits the lane list embedded in a board. Every mutation is a
// read-modify-write committed only if the board is still at the version
// that was read; a conflicting write triggers a fresh attempt.
type Lanes struct {
	store  docstore.Store
	ledger *cards.Ledger
	newID  func() string
}

// NewLanes returns a lane manager. Lane deletion cascades through ledger.
func NewLanes(store docstore.Store, ledger *cards.Ledger) *Lanes {
	return &Lanes{store: store, ledger: ledger, newID: newLaneID}
}

func newLaneID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// AddLane appends a lane whose order is the current number of lanes.
func (l *Lanes) AddLane(ctx context.Context, boardID, name string) (models.Lane, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Lane{}, fmt.Errorf("boards: empty lane name: %w", apperr.ErrInvalid)
	}
	var added models.Lane
	err := l.mutate(ctx, boardID, func(lanes []models.Lane) ([]models.Lane, error) {
		added = models.Lane{ID: l.newID(), Name: name, Order: len(lanes)}
		return append(lanes, added), nil
	})
	if err != nil {
		return models.Lane{}, fmt.Errorf("boards: add lane to %s: %w", boardID, err)
	}
	return added, nil
}

// UpdateLane renames a lane, keeping its order.
func (l *Lanes) UpdateLane(ctx context.Context, boardID, laneID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("boards: empty lane name: %w", apperr.ErrInvalid)
	}
	err := l.mutate(ctx, boardID, func(lanes []models.Lane) ([]models.Lane, error) {
		for i := range lanes {
			if lanes[i].ID == laneID {
				lanes[i].Name = name
				return lanes, nil
			}
		}
		return nil, fmt.Errorf("lane %s: %w", laneID, apperr.ErrNotFound)
	})
	if err != nil {
		return fmt.Errorf("boards: rename lane on %s: %w", boardID, err)
	}
	return nil
}

// DeleteLane removes a lane and then every card in it, returning the number
// of cards deleted. Remaining lanes keep their order values.
func (l *Lanes) DeleteLane(ctx context.Context, boardID, laneID string) (int, error) {
	err := l.mutate(ctx, boardID, func(lanes []models.Lane) ([]models.Lane, error) {
		kept := make([]models.Lane, 0, len(lanes))
		for _, lane := range lanes {
			if lane.ID != laneID {
				kept = append(kept, lane)
			}
		}
		if len(kept) == len(lanes) {
			return nil, errUnchanged
		}
		return kept, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return 0, fmt.Errorf("boards: delete lane on %s: %w", boardID, err)
	}
	n, err := l.ledger.DeleteCardsByLane(ctx, boardID, laneID)
	if err != nil {
		return n, fmt.Errorf("boards: delete cards of lane %s: %w", laneID, err)
	}
	return n, nil
}

// errUnchanged lets an edit decline to write.
var errUnchanged = errors.New("lanes unchanged")

func (l *Lanes) mutate(ctx context.Context, boardID string, edit func([]models.Lane) ([]models.Lane, error)) error {
	var err error
	for attempt := 0; attempt < laneRetries; attempt++ {
		var snap docstore.Snapshot
		snap, err = l.store.Get(ctx, models.BoardsCollection, boardID)
		if err != nil {
			return err
		}
		var b models.Board
		if err = snap.Decode(&b); err != nil {
			return err
		}
		var lanes []models.Lane
		lanes, err = edit(b.Lanes)
		if err != nil {
			return err
		}
		err = l.store.Update(ctx, models.BoardsCollection, boardID,
			docstore.Document{"lanes": lanes}, docstore.IfVersion(snap.Version))
		if !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	return err
}
