package service_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/service"
	"github.com/zlnvch/artstudio/store"
	storemocks "github.com/zlnvch/artstudio/store/mocks"
)

type sentMessage struct {
	Event   string
	Payload any
}

// recordingTransport keeps every message addressed to each connection.
type recordingTransport struct {
	mu    sync.Mutex
	inbox map[string][]sentMessage
	rooms map[string]map[string]struct{}
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		inbox: make(map[string][]sentMessage),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (t *recordingTransport) SendTo(connectionId string, event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox[connectionId] = append(t.inbox[connectionId], sentMessage{Event: event, Payload: payload})
}

func (t *recordingTransport) BroadcastToRoom(projectId string, event string, payload any, excludeConnectionId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for connectionId := range t.rooms[projectId] {
		if connectionId == excludeConnectionId {
			continue
		}
		t.inbox[connectionId] = append(t.inbox[connectionId], sentMessage{Event: event, Payload: payload})
	}
}

func (t *recordingTransport) JoinRoom(connectionId string, projectId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[projectId] == nil {
		t.rooms[projectId] = make(map[string]struct{})
	}
	t.rooms[projectId][connectionId] = struct{}{}
}

func (t *recordingTransport) LeaveRoom(connectionId string, projectId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[projectId], connectionId)
	if len(t.rooms[projectId]) == 0 {
		delete(t.rooms, projectId)
	}
}

func (t *recordingTransport) messages(connectionId string) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.inbox[connectionId]...)
}

func (t *recordingTransport) events(connectionId string) []string {
	var events []string
	for _, m := range t.messages(connectionId) {
		events = append(events, m.Event)
	}
	return events
}

func (t *recordingTransport) count(connectionId string, event string) int {
	n := 0
	for _, m := range t.messages(connectionId) {
		if m.Event == event {
			n++
		}
	}
	return n
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = make(map[string][]sentMessage)
}

type sessionOp struct {
	Kind         string
	ProjectId    string
	ConnectionId string
	RoomEmpty    bool
}

// fakeSessionQueue records what the router hands to the session writer.
type fakeSessionQueue struct {
	mu  sync.Mutex
	ops []sessionOp
}

func (q *fakeSessionQueue) EnqueueJoin(projectId string, userId string, connectionId string, color string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, sessionOp{Kind: "join", ProjectId: projectId, ConnectionId: connectionId})
	return true
}

func (q *fakeSessionQueue) EnqueueLeave(projectId string, connectionId string, roomEmpty bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, sessionOp{Kind: "leave", ProjectId: projectId, ConnectionId: connectionId, RoomEmpty: roomEmpty})
	return true
}

func (q *fakeSessionQueue) recorded() []sessionOp {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]sessionOp(nil), q.ops...)
}

func testProject(projectId string) models.Project {
	return models.Project{
		Id:             projectId,
		Title:          "Sketch",
		CurrentVersion: 3,
		Layers:         []models.Layer{{Id: "bg", Name: "Background", Visible: true, Opacity: 1}},
		Versions: []models.Version{
			{VersionNumber: 2, CanvasData: "v2"},
			{VersionNumber: 3, CanvasData: "v3"},
		},
	}
}

// Helper to setup a router whose projects p1, p2 and p3 exist
func setupRouter(t *testing.T) (*service.EventRouter, *recordingTransport, *fakeSessionQueue) {
	t.Helper()

	mockProjects := new(storemocks.MockProjectStore)
	for _, id := range []string{"p1", "p2", "p3"} {
		mockProjects.On("GetProject", mock.Anything, id).Return(testProject(id), nil)
	}
	mockProjects.On("GetProject", mock.Anything, mock.Anything).Return(models.Project{}, store.ErrItemNotFound)

	transport := newRecordingTransport()
	queue := &fakeSessionQueue{}
	return service.NewEventRouter(mockProjects, queue, transport), transport, queue
}

func user(id string) models.User {
	return models.User{Id: id, Username: "name-" + id}
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func join(t *testing.T, router *service.EventRouter, connectionId string, userId string, projectId string) error {
	t.Helper()
	return router.HandleEvent(t.Context(), connectionId, user(userId), service.EventJoin, rawJSON(t, service.JoinPayload{ProjectId: projectId}))
}

func mustJoin(t *testing.T, router *service.EventRouter, connectionId string, userId string, projectId string) {
	t.Helper()
	require.NoError(t, join(t, router, connectionId, userId, projectId))
}
