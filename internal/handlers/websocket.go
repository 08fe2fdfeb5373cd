package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
	"github.com/ternarybob/revelo/internal/services/render"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local service
	},
}

// WSMessage represents a websocket message sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler manages websocket connections and event broadcasting
type WebSocketHandler struct {
	eventService     interfaces.EventService
	renderService    *render.Service
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	clientsMutex     sync.RWMutex
	serverInstanceID string
	allowedEvents    map[string]bool
	throttlers       map[string]*rate.Limiter
	throttlersMutex  sync.Mutex
}

// NewWebSocketHandler creates a websocket handler and subscribes it to
// the render event bus.
func NewWebSocketHandler(eventService interfaces.EventService, renderService *render.Service, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		eventService:     eventService,
		renderService:    renderService,
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		for eventType, interval := range config.ThrottleIntervals {
			d, err := time.ParseDuration(interval)
			if err != nil || d <= 0 {
				logger.Warn().Str("event_type", eventType).Str("interval", interval).Msg("Invalid throttle interval, ignoring")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(d), 1)
		}
	}

	h.subscribeToEvents()
	return h
}

// eventAllowed reports whether an event type may be broadcast. An empty
// whitelist allows everything.
func (h *WebSocketHandler) eventAllowed(eventType string) bool {
	if len(h.allowedEvents) == 0 {
		return true
	}
	return h.allowedEvents[eventType]
}

// throttled reports whether a high-frequency event should be dropped
func (h *WebSocketHandler) throttled(eventType string) bool {
	h.throttlersMutex.Lock()
	limiter, ok := h.throttlers[eventType]
	h.throttlersMutex.Unlock()
	if !ok {
		return false
	}
	return !limiter.Allow()
}

func (h *WebSocketHandler) subscribeToEvents() {
	forward := func(eventType interfaces.EventType) interfaces.EventHandler {
		return func(ctx context.Context, event interfaces.Event) error {
			h.broadcastEvent(string(eventType), event.Payload)
			return nil
		}
	}

	eventTypes := []interfaces.EventType{
		interfaces.EventRenderStarted,
		interfaces.EventRenderCompleted,
		interfaces.EventRenderFailed,
		interfaces.EventChallengeRound,
		interfaces.EventSessionCreated,
		interfaces.EventSessionEvicted,
		interfaces.EventPoolStats,
	}
	for _, eventType := range eventTypes {
		if err := h.eventService.Subscribe(eventType, forward(eventType)); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
		}
	}
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	h.clientsMutex.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Info().Int("clients", clientCount).Msg("WebSocket client connected")

	// Initial status snapshot so the client renders immediately
	h.sendToClient(conn, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"ready":              h.renderService.IsReady(),
			"pool":               h.renderService.PoolStats(),
			"sessions":           h.renderService.SessionStats(),
			"admission":          h.renderService.AdmissionStats(),
		},
	})

	defer func() {
		h.clientsMutex.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.clientsMutex.Unlock()
		conn.Close()
		h.logger.Info().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read loop exists only to detect disconnects; inbound messages are
	// ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

// broadcastEvent pushes an event to all connected clients, honoring the
// whitelist and per-type throttles.
func (h *WebSocketHandler) broadcastEvent(eventType string, payload interface{}) {
	if !h.eventAllowed(eventType) {
		return
	}
	if h.throttled(eventType) {
		return
	}
	h.broadcast(WSMessage{Type: eventType, Payload: payload})
}

// BroadcastLog pushes a log entry to all connected clients
func (h *WebSocketHandler) BroadcastLog(entry interfaces.LogEntry) {
	h.broadcast(WSMessage{Type: "log", Payload: entry})
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	h.clientsMutex.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.clientsMutex.RUnlock()

	for i, conn := range conns {
		mu := mutexes[i]
		mu.Lock()
		err := conn.WriteJSON(msg)
		mu.Unlock()
		if err != nil {
			h.logger.Debug().Err(err).Msg("Failed to write websocket message")
		}
	}
}

func (h *WebSocketHandler) sendToClient(conn *websocket.Conn, msg WSMessage) {
	h.clientsMutex.RLock()
	mu, ok := h.clientMutex[conn]
	h.clientsMutex.RUnlock()
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write websocket message")
	}
}

// internalLogPatterns are memory-writer lines not useful to UI clients
var internalLogPatterns = []string{
	"WebSocket client",
	"HTTP request",
	"HTTP response",
	"Publishing Event",
}

// GetRecentLogsHandler returns recent service logs from the arbor
// memory writer.
// GET /api/logs/recent
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	if memWriter == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"logs":  []interfaces.LogEntry{},
			"count": 0,
		})
		return
	}

	entries, err := memWriter.GetEntriesWithLimit(100)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read logs: %v", err))
		return
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	logs := make([]interfaces.LogEntry, 0, len(entries))
	index := 0
	for _, key := range keys {
		line := entries[key]

		skip := false
		for _, pattern := range internalLogPatterns {
			if strings.Contains(line, pattern) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		// Memory writer lines look like "INF | 15:04:05.000 | message"
		parts := strings.SplitN(line, "|", 3)
		entry := interfaces.LogEntry{Index: index}
		if len(parts) == 3 {
			entry.Level = mapLevel(strings.TrimSpace(parts[0]))
			entry.Timestamp = strings.TrimSpace(parts[1])
			entry.Message = strings.TrimSpace(parts[2])
		} else {
			entry.Level = "INF"
			entry.Message = strings.TrimSpace(line)
		}
		logs = append(logs, entry)
		index++
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// mapLevel normalizes log level strings to the three-letter display form
func mapLevel(level string) string {
	switch strings.ToUpper(level) {
	case "ERROR", "ERR", "FATAL", "PANIC":
		return "ERR"
	case "WARN", "WRN", "WARNING":
		return "WRN"
	case "DEBUG", "DBG", "TRACE":
		return "DBG"
	default:
		return "INF"
	}
}
