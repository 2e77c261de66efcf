package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub fans session updates out to every connected client. A client is
// either the host (teamID 0) or one of the teams; rooms are keyed by
// session id.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	views      ViewCache
}

type Client struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan []byte
	sessionID uint
	teamID    uint // 0 for the host
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(views ViewCache) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		views:      views,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client %s registered for session %d (team %d) - total clients: %d", client.id, client.sessionID, client.teamID, len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client %s unregistered from session %d - total clients: %d", client.id, client.sessionID, len(h.clients))
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// BroadcastToSession sends a typed message to every client in the
// session's room.
func (h *Hub) BroadcastToSession(sessionID uint, messageType string, payload interface{}) {
	message := Message{
		Type:    messageType,
		Payload: payload,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mutex.RLock()
	for client := range h.clients {
		if client.sessionID != sessionID {
			continue
		}
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mutex.RUnlock()
}

// SendStateSync pushes the cached session view to one client, used
// when a client connects late or asks for a refresh.
func (h *Hub) SendStateSync(client *Client) {
	if h.views == nil {
		return
	}
	view, err := h.views.GetView(context.Background(), client.sessionID)
	if err != nil {
		log.Printf("No cached view for session %d: %v", client.sessionID, err)
		return
	}

	message := Message{
		Type:    "session_view",
		Payload: view,
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling state sync message: %v", err)
		return
	}

	select {
	case client.send <- data:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

// ConnectedTeams lists the team ids with at least one open connection
// to the session.
func (h *Hub) ConnectedTeams(sessionID uint) []uint {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var teamIDs []uint
	for client := range h.clients {
		if client.sessionID == sessionID && client.teamID != 0 {
			teamIDs = append(teamIDs, client.teamID)
		}
	}
	return teamIDs
}

// IsHostConnected reports whether the host has an open connection.
func (h *Hub) IsHostConnected(sessionID uint) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.sessionID == sessionID && client.teamID == 0 {
			return true
		}
	}
	return false
}

func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID uint, teamID uint) *Client {
	client := &Client{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
		teamID:    teamID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		response := Message{
			Type:    "pong",
			Payload: "pong",
		}
		data, _ := json.Marshal(response)
		c.send <- data

	case "request_state":
		c.hub.SendStateSync(c)

	default:
		log.Printf("Unknown message type %q from client %s in session %d", msg.Type, c.id, c.sessionID)
	}
}
