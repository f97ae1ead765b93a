package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const eventWriteTimeout = 10 * time.Second

// events streams the notifications of one conversation (nudges, fallbacks)
// to a websocket client until either side goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.convs.Snapshot(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Error("failed to accept websocket", "conversation_id", id, "error", err)
		return
	}
	defer ws.CloseNow()

	notes, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()
	s.logger.Info("event stream opened", "conversation_id", id)

	// Inbound frames are not expected; CloseRead ends ctx when the client leaves.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event stream closed", "conversation_id", id)
			return
		case n, ok := <-notes:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, ws, n)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Warn("failed to write event", "conversation_id", id, "type", n.Type, "error", err)
				}
				return
			}
		}
	}
}
