package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/internal/domain"
	"go.uber.org/zap"
)

// EventSubscriber hands out queue event subscriptions
type EventSubscriber interface {
	Subscribe() (<-chan domain.QueueEvent, func())
}

// EventsHandler streams queue snapshots to websocket clients
type EventsHandler struct {
	queueMgr *app.QueueManager
	events   EventSubscriber
	logger   *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(queueMgr *app.QueueManager, events EventSubscriber, log *zap.Logger) *EventsHandler {
	return &EventsHandler{
		queueMgr: queueMgr,
		events:   events,
		logger:   log,
	}
}

// HandleWebSocket handles GET /api/v1/downloads/ws. The current queue is
// sent on connect, followed by one message per queue change.
func (h *EventsHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := h.logger.With(zap.String("client_id", clientID))
	log.Info("Event stream client connected", zap.String("remote_addr", c.Request.RemoteAddr))
	defer log.Info("Event stream client disconnected")

	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	initial := domain.QueueEvent{
		Running:   h.queueMgr.IsRunning(),
		Stats:     h.queueMgr.GetStats(),
		Queue:     h.queueMgr.ListDownloads(""),
		Timestamp: time.Now(),
	}
	if err := writeJSON(conn, initial); err != nil {
		return
	}

	done := readUntilClosed(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Timestamp.Before(initial.Timestamp) {
				continue
			}
			if err := writeJSON(conn, event); err != nil {
				log.Debug("Failed to send event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
