package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Frame is one websocket message sent to the client. The first frame is a
// snapshot; every later frame carries one timeline event.
type Frame struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Event    *chat.Event       `json:"event,omitempty"`
}

func (s *Server) streamTimeline(c *gin.Context) {
	ctrl := controller(c)
	log := s.log.WithContext(c.Request.Context())

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("failed to upgrade connection to websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	subID := uuid.New().String()
	sub := ctrl.Timeline().Subscribe(c.Request.Context(), subID, 256)
	defer ctrl.Timeline().Unsubscribe(subID)

	log.Info("websocket connection established", slog.String("subscriber_id", subID))

	snap := ctrl.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Frame{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	// The client sends nothing we act on; reading detects the close.
	go func() {
		defer sub.Cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			log.Info("websocket connection closed", slog.String("subscriber_id", subID))
			return

		case evt := <-sub.Ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Frame{Type: "event", Event: &evt}); err != nil {
				log.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
			ctrl.Touch()

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
