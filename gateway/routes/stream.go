package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"workescrow/core/types"
)

const wsWriteTimeout = 10 * time.Second

// eventFilter selects the events forwarded to one stream subscriber.
type eventFilter struct {
	instance   string
	typePrefix string
}

func (f eventFilter) match(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	if f.typePrefix != "" && !strings.HasPrefix(evt.Type, f.typePrefix) {
		return false
	}
	if f.instance != "" && !strings.EqualFold(evt.Attr("instance"), f.instance) {
		return false
	}
	return true
}

func (s *server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errStreamUnavailable)
		return
	}
	query := r.URL.Query()
	filter := eventFilter{
		instance:   strings.TrimSpace(query.Get("instance")),
		typePrefix: strings.TrimSpace(query.Get("type")),
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *server) streamEvents(ctx context.Context, conn *websocket.Conn, filter eventFilter) error {
	updates := s.events.Subscribe(ctx, s.buffer)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
