package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/middleware"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same policy as the CORS middleware
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleAlertFeed streams every alert the server produces as JSON text frames.
func (s *Server) handleAlertFeed(c *gin.Context) {
	if s.feed == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, domain.NewAPIError(
			domain.ErrCodeUnavailable, "alert feed disabled", "", c.GetString(middleware.CorrelationIDKey)))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.WithError(err).Debug("Alert feed upgrade failed")
		return
	}
	defer conn.Close()

	alerts, cancel := s.feed.Subscribe()
	defer cancel()

	log := s.logger.WithField("correlation_id", c.GetString(middleware.CorrelationIDKey))
	log.WithField("subscribers", s.feed.Subscribers()).Info("Alert feed subscriber connected")

	// The reader only services control frames and notices the client leaving
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-alerts:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(a); err != nil {
				log.WithError(err).Debug("Alert feed write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			log.Info("Alert feed subscriber disconnected")
			return
		}
	}
}
