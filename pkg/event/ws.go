package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 5 * time.Second
)

// WSMessage is the JSON message sent over WebSocket.
type WSMessage struct {
	Event string         `json:"event"`          // Event name (e.g., "message.created")
	Data  map[string]any `json:"data,omitempty"` // Event-specific data
	TS    int64          `json:"ts"`             // Timestamp (Unix ms)
}

// WSHandler handles WebSocket connections for event notifications.
type WSHandler struct {
	emitter  *Emitter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a WebSocket handler on emitter (nil means the global one).
func NewWSHandler(emitter *Emitter) *WSHandler {
	if emitter == nil {
		emitter = Global()
	}
	return &WSHandler{
		emitter: emitter,
		logger:  utils.GetLogger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsFilter selects the events one client receives.
type wsFilter struct {
	events       map[string]bool // nil means every event
	organization string
}

func parseFilter(c *gin.Context) wsFilter {
	f := wsFilter{organization: strings.TrimSpace(c.Query("organization"))}
	if raw := c.Query("events"); raw != "" {
		f.events = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.events[name] = true
			}
		}
	}
	return f
}

// message builds the outgoing message, or reports false when ev is filtered out.
func (f wsFilter) message(ev Event) (WSMessage, bool) {
	if f.events != nil && !f.events[ev.EventName()] {
		return WSMessage{}, false
	}
	data := eventToData(ev)
	if f.organization != "" {
		if org, _ := data["organizationId"].(string); org != f.organization {
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: ev.EventName(), Data: data, TS: time.Now().UnixMilli()}, true
}

// Handle streams orchestration events to a websocket client.
// Query params:
//   - events: comma-separated event names (empty = all)
//   - organization: only forward events for this organization
//
// Example: /api/events/ws?events=conversation.escalated&organization=org-1
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := parseFilter(c)
	sendCh := make(chan WSMessage, 64)
	done := make(chan struct{})

	unsubscribe := h.emitter.OnAny(func(ev Event) {
		msg, ok := filter.message(ev)
		if !ok {
			return
		}
		select {
		case sendCh <- msg:
		default:
			h.logger.Warn("Dropped websocket event, buffer full", "event", msg.Event, "organizationID", filter.organization)
		}
	})
	defer unsubscribe()

	// Reads only to notice disconnects and pongs.
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
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

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	write := func(fn func() error) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return fn() == nil
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ping.C:
			if !write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }) {
				return
			}
		case msg := <-sendCh:
			if !write(func() error { return conn.WriteJSON(msg) }) {
				return
			}
		}
	}
}

// eventToData converts an Event to a map for JSON serialization.
func eventToData(ev Event) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
