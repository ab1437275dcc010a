package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// watch streams a snapshot of the segments followed by live updates.
func (a *api) watch(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithComponent("http.watch").With().Str("remoteAddr", r.RemoteAddr).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	sub := a.feed.Subscribe(256)
	defer sub.Close()
	metrics.DefaultMetrics.RecordFeedClient("websocket", 1)
	defer metrics.DefaultMetrics.RecordFeedClient("websocket", -1)

	logger.Info().Msg("Feed client connected")

	snapshot := feed.Update{Type: feed.TypeSnapshot, Segments: a.sessions.Segments()}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		logger.Warn().Err(err).Msg("Failed to send snapshot")
		return
	}

	// Inbound messages are ignored; the read loop only tracks liveness.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("Feed client read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				logger.Warn().Bool("dropped", sub.Dropped()).Msg("Feed subscription ended")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				logger.Debug().Err(err).Msg("Feed client write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			logger.Info().Msg("Feed client disconnected")
			return
		}
	}
}
