package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/airsenalops/api/internal/model"
)

const pingInterval = 30 * time.Second

// Client represents one WebSocket subscriber to a job's event stream
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans job events out to WebSocket subscribers grouped by job ID.
// Publishers never block on a slow consumer: a client whose send buffer
// is full is dropped and the rest keep receiving.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	logger *slog.Logger
	mu     sync.RWMutex
}

type broadcastMessage struct {
	jobID   string
	payload []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.jobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.payload:
					default:
						// Slow consumer; drop it, the others are unaffected.
						delete(clients, client)
						close(client.Send)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.jobID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients across all jobs.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// BroadcastLog sends one captured log line to all job subscribers
func (h *Hub) BroadcastLog(jobID, message string) {
	h.publish(jobID, model.NewLogMessage(message))
}

// BroadcastStatus announces a status change to all job subscribers
func (h *Hub) BroadcastStatus(jobID string, status model.JobStatus, errMsg string) {
	h.publish(jobID, model.NewStatusMessage(status, errMsg))
}

// BroadcastRetry announces that a failed run has been rescheduled
func (h *Hub) BroadcastRetry(jobID string, retryCount int) {
	h.publish(jobID, model.NewRetryMessage(retryCount))
}

// BroadcastOutput delivers the parsed output of a completed run
func (h *Hub) BroadcastOutput(jobID string, output *model.JobOutput) {
	h.publish(jobID, model.NewOutputMessage(output))
}

func (h *Hub) publish(jobID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "job_id", jobID, "error", err)
		return
	}
	h.broadcast <- &broadcastMessage{jobID: jobID, payload: data}
}

// HandleConnection services one subscriber until it disconnects. The
// backlog frames are queued ahead of registration so the client sees
// history strictly before any live event.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, backlog [][]byte) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, len(backlog)+256),
	}
	for _, frame := range backlog {
		client.Send <- frame
	}

	h.Register(client)
	defer h.Unregister(client)

	// Writer goroutine owns the connection's write side
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop; the dashboard sends keepalive pings as plain text,
	// older clients as {"type":"ping"}.
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "job_id", jobID, "error", err)
			}
			break
		}

		if string(message) == model.WSMessageTypePing {
			h.reply(client, []byte(model.WSMessageTypePong))
			continue
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.reply(client, data)
		}
	}
}

// reply queues a frame for one client without risking a send on a
// closed channel after the hub dropped it.
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[client.JobID]; ok && clients[client] {
		select {
		case client.Send <- data:
		default:
		}
	}
}
