package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ratewatch/internal/rates"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsUpdate struct {
	Pair       string `json:"pair"`
	Class      string `json:"class"`
	Rate       string `json:"rate"`
	ObservedAt string `json:"observed_at"`
	Source     string `json:"source"`
}

// handleWS upgrades the connection and bridges it onto a hub subscription.
// The optional pairs query parameter narrows interest; without it the client
// receives every pair. When the hub disconnects a slow consumer the
// subscriber channel closes and the socket is torn down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pairs, err := parsePairsParam(r.URL.Query().Get("pairs"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.pipeline.Subscribe(pairs...)
	logger := s.logger.With().Stringer("subscriber", sub.ID).Logger()
	logger.Info().Int("pairs", len(pairs)).Msg("websocket subscriber connected")

	done := make(chan struct{})

	// Read pump: we never expect client frames; reading surfaces the
	// close handshake and keeps pong handling alive.
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.pipeline.Unsubscribe(sub.ID)
		_ = conn.Close()
		logger.Info().Msg("websocket subscriber disconnected")
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-sub.C():
			if !ok {
				// Dropped by the hub as a slow consumer.
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			update := wsUpdate{
				Pair:       entry.Snapshot.Pair.String(),
				Class:      string(entry.Snapshot.Class),
				Rate:       entry.Snapshot.Rate.String(),
				ObservedAt: entry.Snapshot.ObservedAt.UTC().Format(time.RFC3339),
				Source:     entry.Snapshot.Source,
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parsePairsParam(raw string) ([]rates.Pair, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	pairs := make([]rates.Pair, 0, len(parts))
	for _, part := range parts {
		pair, err := rates.ParsePair(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
