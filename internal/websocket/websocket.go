package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"chatterfix/internal/events"
	"chatterfix/internal/logs"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	maxLogBuffer    = 100
	maxMessageBytes = 64 * 1024
	sendQueueSize   = 256
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	ID        string      `json:"id,omitempty"`
}

// client owns one connection. Only writePump writes to conn; everything else
// queues frames on send.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendQueueSize), done: make(chan struct{})}
}

// enqueue never blocks; it reports false when the queue is full or the client is gone.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub manages dashboard WebSocket connections for real-time updates
type Hub struct {
	clients  map[*client]bool
	mutex    sync.RWMutex
	upgrader websocket.Upgrader

	logBuffer   []Message
	bufferMutex sync.Mutex

	commands map[string]func()
}

// NewHub creates a new hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		commands: make(map[string]func()),
	}
}

// OnCommand registers an action a dashboard client can trigger by message type.
func (h *Hub) OnCommand(msgType string, fn func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.commands[msgType] = fn
}

// HandleConnection handles a new WebSocket connection
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	c := newClient(conn)
	go h.writePump(c)
	h.mutex.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mutex.Unlock()
	log.Printf("🔗 Dashboard client connected. Total clients: %d", count)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️  WebSocket error: %v", err)
			}
			break
		}

		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			log.Printf("⚠️  Failed to parse message: %v", err)
			continue
		}
		msgType, ok := data["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "client_ready":
			h.flushLogs(c)
		case "ping":
			h.send(c, Message{
				Type:      "pong",
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"status": "ok"},
			})
		default:
			h.mutex.RLock()
			fn := h.commands[msgType]
			h.mutex.RUnlock()
			if fn != nil {
				log.Printf("📱 Dashboard requested %s", msgType)
				go fn()
			}
		}
	}

	h.remove(c)
	log.Printf("🔌 Dashboard client disconnected. Total clients: %d", h.ConnectionCount())
}

func (h *Hub) remove(c *client) {
	h.mutex.Lock()
	delete(h.clients, c)
	h.mutex.Unlock()
	c.close()
}

func (h *Hub) writePump(c *client) {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msgType string, data interface{}) {
	h.broadcast(Message{Type: msgType, Timestamp: time.Now(), Data: data})
}

func (h *Hub) broadcast(message Message) {
	for _, c := range h.snapshot() {
		h.send(c, message)
	}
}

func (h *Hub) snapshot() []*client {
	h.mutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()
	return clients
}

// send queues a message; a client too slow to drain its queue is disconnected
func (h *Hub) send(c *client, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("⚠️  Failed to encode WebSocket message: %v", err)
		return
	}
	if !c.enqueue(data) {
		h.remove(c)
	}
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Handle forwards bus events to the dashboard
func (h *Hub) Handle(_ context.Context, event events.Event) error {
	h.broadcast(Message{Type: "event", Timestamp: event.Timestamp, Data: event, ID: event.ID})
	return nil
}

// BroadcastLog buffers a log entry for late joiners and streams it to connected clients.
// It is installed as the logs.Writer sink and runs under the standard logger's
// lock, so nothing on this path may call log or block: frames for a client
// whose queue is full are dropped.
func (h *Hub) BroadcastLog(entry logs.Entry) {
	msg := Message{
		Type:      "log",
		Timestamp: entry.TimeStamp,
		Data: map[string]interface{}{
			"level":   string(entry.Level),
			"message": entry.Message,
		},
	}

	h.bufferMutex.Lock()
	h.logBuffer = append(h.logBuffer, msg)
	if len(h.logBuffer) > maxLogBuffer {
		h.logBuffer = h.logBuffer[len(h.logBuffer)-maxLogBuffer:]
	}
	h.bufferMutex.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, c := range h.snapshot() {
		c.enqueue(data)
	}
}

func (h *Hub) flushLogs(c *client) {
	h.bufferMutex.Lock()
	buffered := append([]Message(nil), h.logBuffer...)
	h.bufferMutex.Unlock()

	for _, msg := range buffered {
		h.send(c, msg)
	}
}
