package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/retroboard/internal/boardview"
	"github.com/starford/retroboard/internal/sse"
)

// Event types on a board stream.
const (
	EventBoard        = "board"
	EventNotice       = "notice"
	EventBoardDeleted = "board.deleted"
)

// BoardEvents handles GET /api/boards/{code}/events. Each connection owns one
// board session, which ends when the client goes away.
func (h *Handler) BoardEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notices := make(chan string, 16)
	notifier := boardview.NotifierFunc(func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	})

	sess, err := h.svc.Open(ctx, chi.URLParam(r, "code"), notifier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sess.Close()

	stream, err := sse.Open(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	logger := h.logger.With(slog.String("principal", sess.Principal()), slog.String("board", sess.Board().ID))
	logger.Debug("event stream opened")
	defer logger.Debug("event stream closed")

	// The first snapshot is already applied; drop its signal.
	select {
	case <-sess.Changes():
	default:
	}
	if err := stream.Send(sse.Event{Type: EventBoard, Data: sess.View()}); err != nil {
		return
	}

	keepalive := time.NewTicker(h.cfg.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sess.Changes():
			if !ok {
				return
			}
			if sess.Deleted() {
				_ = stream.Send(sse.Event{Type: EventBoardDeleted, Data: map[string]string{"id": sess.Board().ID}})
				return
			}
			if err := stream.Send(sse.Event{Type: EventBoard, Data: sess.View()}); err != nil {
				return
			}
		case msg := <-notices:
			if err := stream.Send(sse.Event{Type: EventNotice, Data: map[string]string{"message": msg}}); err != nil {
				return
			}
		case <-keepalive.C:
			if err := stream.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
