package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagaflow/sagaflow/pkg/api/events"
	"github.com/sagaflow/sagaflow/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultEventBuffer      = 32
)

// WebSocketConfig configures the event stream endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// subscribeMessage is the client-to-server subscription control frame.
type subscribeMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id,omitempty"`
}

// wsClient is one websocket connection with its order-id filter. An
// empty filter receives every event.
type wsClient struct {
	conn *websocket.Conn

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

func (c *wsClient) subscribe(orderID string) {
	if orderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[orderID] = struct{}{}
}

func (c *wsClient) unsubscribe(orderID string) {
	if orderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, orderID)
}

func (c *wsClient) wants(orderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	if orderID == "" {
		return false
	}
	_, ok := c.subscriptions[orderID]
	return ok
}

// WebSocketHandler streams saga status events over /ws.
type WebSocketHandler struct {
	log         logger.Logger
	broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader

	maxConnections int
	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration

	mu     sync.Mutex
	active int
}

// NewWebSocketHandler creates the /ws handler fed by the broadcaster.
func NewWebSocketHandler(broadcaster *events.Broadcaster, log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultWSMaxConnections
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	h := &WebSocketHandler{
		log:            log,
		broadcaster:    broadcaster,
		maxConnections: cfg.MaxConnections,
		pingInterval:   cfg.PingInterval,
		pongTimeout:    cfg.PongTimeout,
		writeTimeout:   defaultWriteTimeout,
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}
	return h
}

// ServeHTTP upgrades the connection and pumps events until the client
// disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.acquireSlot() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}
	defer h.releaseSlot()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn, subscriptions: make(map[string]struct{})}
	ch := h.broadcaster.Subscribe(defaultEventBuffer)
	defer h.broadcaster.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readPump(client)
	}()
	h.writePump(client, ch, done)
}

func (h *WebSocketHandler) acquireSlot() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active >= h.maxConnections {
		return false
	}
	h.active++
	return true
}

func (h *WebSocketHandler) releaseSlot() {
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
}

// Count returns the number of active connections.
func (h *WebSocketHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(1 << 20)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		orderID := strings.TrimSpace(msg.OrderID)
		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "subscribe":
			client.subscribe(orderID)
		case "unsubscribe":
			client.unsubscribe(orderID)
		}
	}
}

func (h *WebSocketHandler) writePump(client *wsClient, ch chan events.Event, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			if !client.wants(events.OrderIDFromPayload(event.Payload)) {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func originAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
