package ws

import (
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/metrics"
)

const maxConnectionsPerUser = 5

var ErrTooManyConnections = errors.New("user reached max connections")

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks open websocket clients and the project rooms they joined. It implements the
// router's transport: all sends are non-blocking and messages queued by one caller are
// delivered to each client in the order they were queued.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	userToClients map[string]map[string]struct{}
	rooms         map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		userToClients: make(map[string]map[string]struct{}),
		rooms:         make(map[string]map[string]*Client),
	}
}

func (h *Hub) Open(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.userToClients[client.user.Id]
	if !ok {
		userClients = make(map[string]struct{})
		h.userToClients[client.user.Id] = userClients
	}
	if len(userClients) >= maxConnectionsPerUser {
		log.WithField("user_id", client.user.Id).Warnf("user reached max connections (%d)", maxConnectionsPerUser)
		return ErrTooManyConnections
	}

	userClients[client.id] = struct{}{}
	h.clients[client.id] = client
	metrics.ActiveConnections.Inc()
	return nil
}

// Close removes the client from every room and closes its send channel. Safe to call more
// than once.
func (h *Hub) Close(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)

	for projectId, room := range h.rooms {
		if _, ok := room[client.id]; ok {
			delete(room, client.id)
			if len(room) == 0 {
				delete(h.rooms, projectId)
			}
		}
	}

	delete(h.userToClients[client.user.Id], client.id)
	if len(h.userToClients[client.user.Id]) == 0 {
		delete(h.userToClients, client.user.Id)
	}

	close(client.send)
	metrics.ActiveConnections.Dec()
}

func (h *Hub) SendTo(connectionId string, event string, payload any) {
	messageBytes, ok := encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[connectionId]; ok {
		client.enqueue(messageBytes)
	}
}

func (h *Hub) BroadcastToRoom(projectId string, event string, payload any, excludeConnectionId string) {
	messageBytes, ok := encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connectionId, client := range h.rooms[projectId] {
		if connectionId == excludeConnectionId {
			continue
		}
		client.enqueue(messageBytes)
	}
}

func (h *Hub) JoinRoom(connectionId string, projectId string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connectionId]
	if !ok {
		return
	}
	room, ok := h.rooms[projectId]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[projectId] = room
	}
	room[connectionId] = client
}

func (h *Hub) LeaveRoom(connectionId string, projectId string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[projectId]
	if !ok {
		return
	}
	delete(room, connectionId)
	if len(room) == 0 {
		delete(h.rooms, projectId)
	}
}

func (h *Hub) RoomSize(projectId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectId])
}

func encode(event string, payload any) ([]byte, bool) {
	messageBytes, err := json.Marshal(outboundMessage{Type: event, Data: payload})
	if err != nil {
		log.WithError(err).WithField("event", event).Error("failed to marshal outbound message")
		return nil, false
	}
	return messageBytes, true
}
