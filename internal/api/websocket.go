package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trendlab/internal/logger"
	"trendlab/internal/monitoring"
	"trendlab/internal/strategy/optimizer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// TrialEvent is pushed to subscribers after every finished trial.
type TrialEvent struct {
	StudyID   string           `json:"study_id"`
	StudyName string           `json:"study_name"`
	Trial     optimizer.Trial  `json:"trial"`
	Best      *optimizer.Trial `json:"best,omitempty"`
}

// Hub fans trial events out to WebSocket subscribers. It implements
// optimizer.Listener so a study can publish into it directly.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *monitoring.Metrics
	logger   logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// Client represents a WebSocket client
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub  *Hub
	once sync.Once
}

// NewHub creates a new hub. metrics may be nil.
func NewHub(metrics *monitoring.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 只读推送，不校验来源
			},
		},
		metrics: metrics,
		logger:  logger.GetGlobalLogger().WithField("component", "ws_hub"),
		clients: make(map[string]*Client),
	}
}

// ServeWS upgrades the request and subscribes the connection to trial events.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	hello, _ := json.Marshal(Message{
		Type: "connected",
		Data: map[string]interface{}{"client_id": client.ID},
		Time: time.Now(),
	})
	client.Send <- hello

	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// OnTrial implements optimizer.Listener.
func (h *Hub) OnTrial(study optimizer.StudyInfo, trial optimizer.Trial, best *optimizer.Trial) {
	h.Broadcast(Message{
		Type: "trial",
		Data: TrialEvent{
			StudyID:   study.ID,
			StudyName: study.Name,
			Trial:     trial,
			Best:      best,
		},
		Time: time.Now(),
	})
}

// Broadcast sends msg to every client. Clients whose buffer is full are
// disconnected rather than blocking the caller.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	// Send is only closed under the write lock, so sending under the read
	// lock never hits a closed channel.
	var slow []*Client
	h.mu.RLock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Client send buffer full, closing connection", "client_id", client.ID)
		h.unregister(client)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.unregister(client)
	}
}

func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client.ID] = client
	h.updateGauge()
	return true
}

// unregister is safe to call more than once per client.
func (h *Hub) unregister(client *Client) {
	client.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.clients, client.ID)
		h.updateGauge()
		close(client.Send)
	})
}

// updateGauge expects h.mu held.
func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(len(h.clients)))
	}
}

// writePump pumps messages from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; subscribers do not send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket closed", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}
