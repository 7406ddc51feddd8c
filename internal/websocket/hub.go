package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/carzbazzar/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	InspectionID string
	Conn         *websocket.Conn
	Send         chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by inspection ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to inspection subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	InspectionID string
	Message      []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.InspectionID] == nil {
				h.clients[client.InspectionID] = make(map[*Client]bool)
			}
			h.clients[client.InspectionID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for inspection %s", client.InspectionID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from inspection %s", client.InspectionID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.InspectionID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow client, drop the message
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.InspectionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.InspectionID)
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

// Subscribers returns the number of clients watching an inspection
func (h *Hub) Subscribers(inspectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[inspectionID])
}

// BroadcastCaptured tells subscribers a capture was queued
func (h *Hub) BroadcastCaptured(task model.UploadTask) {
	h.publish(task.InspectionID, taskMessage(model.WSMessageTypeCaptured, task), true)
}

// BroadcastProgress sends a progress update. Updates are dropped rather
// than blocking the transfer when the hub is backed up.
func (h *Hub) BroadcastProgress(task model.UploadTask) {
	h.publish(task.InspectionID, taskMessage(model.WSMessageTypeProgress, task), false)
}

// BroadcastSynced tells subscribers the upload finished and the inspection was updated
func (h *Hub) BroadcastSynced(task model.UploadTask) {
	h.publish(task.InspectionID, taskMessage(model.WSMessageTypeSynced, task), true)
}

// BroadcastFailed sends an error message for a failed upload
func (h *Hub) BroadcastFailed(task model.UploadTask) {
	h.publish(task.InspectionID, model.WSErrorMessage{
		Type:         model.WSMessageTypeError,
		InspectionID: task.InspectionID,
		TaskID:       task.ID,
		Error: model.WSError{
			Code:    "UPLOAD_FAILED",
			Message: task.LastError,
		},
	}, true)
}

func taskMessage(msgType string, task model.UploadTask) model.WSTaskMessage {
	return model.WSTaskMessage{
		Type:         msgType,
		InspectionID: task.InspectionID,
		TaskID:       task.ID,
		SectionKey:   task.SectionKey,
		Status:       task.Status,
		Progress:     task.Progress,
		URL:          task.URL,
	}
}

func (h *Hub) publish(inspectionID string, msg any, wait bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	bm := &BroadcastMessage{InspectionID: inspectionID, Message: data}
	if wait {
		h.broadcast <- bm
		return
	}
	select {
	case h.broadcast <- bm:
	default:
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, inspectionID string) {
	client := &Client{
		InspectionID: inspectionID,
		Conn:         c,
		Send:         make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
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
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}
