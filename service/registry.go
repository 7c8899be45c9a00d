package service

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/zlnvch/artstudio/models"
)

// Cursor colors handed out on join. Collisions within a room are allowed.
var colorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B500", "#FF85A2", "#7FDBFF", "#2ECC40",
}

func randomColor() string {
	return colorPalette[rand.IntN(len(colorPalette))]
}

var (
	ErrAlreadyJoined     = errors.New("connection already joined a project")
	ErrConnectionRetired = errors.New("connection already left its project")
)

// ConnectionRegistry maps live connections to their identity and room.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]*models.Connection
	// Connections that left explicitly; leave is terminal until the transport closes
	retired   map[string]struct{}
	pickColor func() string
	now       func() time.Time
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]*models.Connection),
		retired:     make(map[string]struct{}),
		pickColor:   randomColor,
		now:         time.Now,
	}
}

// Register records a joined connection and returns its assigned color.
func (r *ConnectionRegistry) Register(connectionId string, userId string, displayName string, projectId string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; ok {
		return "", ErrAlreadyJoined
	}
	if _, ok := r.retired[connectionId]; ok {
		return "", ErrConnectionRetired
	}

	now := r.now()
	color := r.pickColor()
	r.connections[connectionId] = &models.Connection{
		Id:           connectionId,
		UserId:       userId,
		DisplayName:  displayName,
		ProjectId:    projectId,
		Color:        color,
		JoinedAt:     now,
		LastActivity: now,
	}
	return color, nil
}

func (r *ConnectionRegistry) Lookup(connectionId string) (models.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionId]
	if !ok {
		return models.Connection{}, false
	}
	return *conn, true
}

// Unregister removes the connection and returns its last known state.
func (r *ConnectionRegistry) Unregister(connectionId string) (models.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionId]
	if !ok {
		return models.Connection{}, false
	}
	delete(r.connections, connectionId)
	r.retired[connectionId] = struct{}{}
	return *conn, true
}

// Forget drops any trace of a closed connection.
func (r *ConnectionRegistry) Forget(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connectionId)
	delete(r.retired, connectionId)
}

func (r *ConnectionRegistry) Touch(connectionId string) (models.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionId]
	if !ok {
		return models.Connection{}, false
	}
	conn.LastActivity = r.now()
	return *conn, true
}

func (r *ConnectionRegistry) MoveCursor(connectionId string, x float64, y float64) (models.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionId]
	if !ok {
		return models.Connection{}, false
	}
	conn.Cursor = models.Cursor{X: x, Y: y}
	conn.LastActivity = r.now()
	return *conn, true
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// MembershipIndex maps a project room to the connections inside it. A room with no
// members has no entry.
type MembershipIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewMembershipIndex() *MembershipIndex {
	return &MembershipIndex{rooms: make(map[string]map[string]struct{})}
}

// Add puts the connection in the room and reports whether the room was created by it.
func (m *MembershipIndex) Add(projectId string, connectionId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[projectId]
	if !ok {
		room = make(map[string]struct{})
		m.rooms[projectId] = room
	}
	room[connectionId] = struct{}{}
	return !ok
}

// Remove takes the connection out of the room and returns how many members remain.
func (m *MembershipIndex) Remove(projectId string, connectionId string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[projectId]
	if !ok {
		return 0
	}
	delete(room, connectionId)
	if len(room) == 0 {
		delete(m.rooms, projectId)
		return 0
	}
	return len(room)
}

// Members returns the room's connection ids in a stable order.
func (m *MembershipIndex) Members(projectId string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.rooms[projectId]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MembershipIndex) Count(projectId string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[projectId])
}

func (m *MembershipIndex) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
