package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// StreamMetrics pushes the current snapshot, then every refreshed one,
// until the client goes away.
func (h *Handler) StreamMetrics(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.deriver.Subscribe()
	defer cancel()

	// the client never sends anything, reading only detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(h.deriver.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case m, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				h.logger.Debug("Metrics stream closed", zap.Error(err))
				return
			}
		}
	}
}
