package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // presentation clients are served from other origins
	},
}

// clientCommand is a message from the presentation layer.
type clientCommand struct {
	Type string `json:"type"` // "reset"
}

// stream pushes every risk update of a session to a websocket client. The
// client may send {"type":"reset"} to mark the call safe.
func (h *sessionHandlers) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("sessionId", s.ID()).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := s.Subscribe()
	defer cancel()

	log := h.log.With().Str("sessionId", s.ID()).Logger()
	log.Info().Msg("WebSocket subscriber connected")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Reader: handles commands and notices disconnects.
	go func() {
		defer stop()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Debug().Err(err).Msg("Ignoring malformed websocket command")
				continue
			}
			if cmd.Type == "reset" {
				if err := s.Reset(ctx); err != nil {
					log.Warn().Err(err).Msg("Reset from websocket failed")
				}
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	snap := s.Snapshot()
	if err := writeWS(conn, snap); err != nil {
		return
	}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				log.Info().Msg("Session ended, closing websocket")
				return
			}
			if err := writeWS(conn, u); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			log.Info().Msg("WebSocket subscriber disconnected")
			return
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
