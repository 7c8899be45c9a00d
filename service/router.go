package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/metrics"
	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

// Transport delivers outbound events to connections. Sends must not block.
type Transport interface {
	SendTo(connectionId string, event string, payload any)
	// BroadcastToRoom sends to every connection in the room except excludeConnectionId,
	// which may be empty.
	BroadcastToRoom(projectId string, event string, payload any, excludeConnectionId string)
	JoinRoom(connectionId string, projectId string)
	LeaveRoom(connectionId string, projectId string)
}

// SessionQueue accepts session persistence work without blocking the caller.
type SessionQueue interface {
	EnqueueJoin(projectId string, userId string, connectionId string, color string) bool
	EnqueueLeave(projectId string, connectionId string, roomEmpty bool) bool
}

var (
	ErrNotJoined        = errors.New("connection has not joined a project")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid event payload")
	ErrIdentityMismatch = errors.New("join user does not match authenticated user")
)

// EventRouter dispatches real-time events from connections to the room state and fans the
// results out through the transport. Join, leave and snapshot writes of one room are
// serialized by a per-room lock; different rooms proceed in parallel.
type EventRouter struct {
	registry  *ConnectionRegistry
	members   *MembershipIndex
	rooms     *RoomStateCache
	sessions  SessionQueue
	transport Transport
	locks     *roomLocks
}

func NewEventRouter(projects store.ProjectStore, sessions SessionQueue, transport Transport) *EventRouter {
	return &EventRouter{
		registry:  NewConnectionRegistry(),
		members:   NewMembershipIndex(),
		rooms:     NewRoomStateCache(projects),
		sessions:  sessions,
		transport: transport,
		locks:     newRoomLocks(),
	}
}

// HandleEvent processes one inbound event. Events are handled in the order a connection
// sends them as long as the caller invokes HandleEvent sequentially per connection. A
// non-nil error means the event was dropped; nothing is reported back to the client.
func (r *EventRouter) HandleEvent(ctx context.Context, connectionId string, caller models.User, eventType string, data json.RawMessage) error {
	var err error
	switch eventType {
	case EventJoin:
		err = r.join(ctx, connectionId, caller, data)
	case EventLeave:
		err = r.leave(connectionId)
	case EventDraw:
		err = r.draw(connectionId, data)
	case EventCanvasUpdate:
		err = r.canvasUpdate(connectionId, data)
	case EventCursorMove:
		err = r.cursorMove(connectionId, data)
	case EventLayerChange:
		err = r.layerChange(connectionId, data)
	case EventUndo, EventRedo, EventClearCanvas:
		err = r.peerAction(connectionId, eventType)
	case EventToolChange:
		err = r.toolChange(connectionId, data)
	default:
		err = ErrUnknownEvent
	}

	entry := log.WithFields(log.Fields{"event": eventType, "connection_id": connectionId})
	switch {
	case err == nil:
		metrics.EventsTotal.WithLabelValues(eventType).Inc()
	case errors.Is(err, ErrUnknownEvent):
		metrics.DroppedEvents.WithLabelValues(metrics.ReasonUnknownType).Inc()
		entry.Debug("dropping unknown event")
	case errors.Is(err, ErrInvalidPayload):
		metrics.DroppedEvents.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		entry.WithError(err).Debug("dropping event with invalid payload")
	default:
		metrics.DroppedEvents.WithLabelValues(metrics.ReasonNotJoined).Inc()
		entry.WithError(err).Debug("dropping event")
	}
	return err
}

// Disconnect runs the leave cleanup for a closed connection, whatever the reason it closed.
func (r *EventRouter) Disconnect(connectionId string) {
	if err := r.leave(connectionId); err == nil {
		log.WithField("connection_id", connectionId).Debug("cleaned up disconnected connection")
	}
	r.registry.Forget(connectionId)
}

// OnProjectSaved tells a live room that a new version of its project was saved.
func (r *EventRouter) OnProjectSaved(projectId string, version int) {
	unlock := r.locks.lock(projectId)
	defer unlock()

	if r.members.Count(projectId) == 0 {
		return
	}
	r.rooms.BumpVersion(projectId, version)
	r.transport.BroadcastToRoom(projectId, EventVersionSaved, VersionSavedMessage{Version: version}, "")
}

func (r *EventRouter) MemberCount(projectId string) int {
	return r.members.Count(projectId)
}

// Presence lists the connections currently joined to the room.
func (r *EventRouter) Presence(projectId string) []RoomMember {
	return r.roomMembers(projectId)
}

func (r *EventRouter) Snapshot(projectId string) (models.Snapshot, bool) {
	return r.rooms.Get(projectId)
}

func (r *EventRouter) ConnectionCount() int {
	return r.registry.Count()
}

func (r *EventRouter) RoomCount() int {
	return r.members.RoomCount()
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}

func (r *EventRouter) join(ctx context.Context, connectionId string, caller models.User, data json.RawMessage) error {
	p, err := decode[JoinPayload](data)
	if err != nil {
		return err
	}
	if p.UserId == "" {
		p.UserId = caller.Id
	}
	if p.DisplayName == "" {
		p.DisplayName = caller.Username
	}
	if err := ValidateJoin(p); err != nil {
		return invalid(err)
	}
	if p.UserId != caller.Id {
		return ErrIdentityMismatch
	}

	unlock := r.locks.lock(p.ProjectId)
	defer unlock()

	roomExisted := r.members.Count(p.ProjectId) > 0

	color, err := r.registry.Register(connectionId, p.UserId, p.DisplayName, p.ProjectId)
	if err != nil {
		return err
	}
	if created := r.members.Add(p.ProjectId, connectionId); created {
		metrics.ActiveRooms.Inc()
	}

	entry := log.WithFields(log.Fields{
		"project_id":    p.ProjectId,
		"connection_id": connectionId,
		"user_id":       p.UserId,
	})

	if err := r.rooms.EnsureLoaded(ctx, p.ProjectId); err != nil {
		entry.WithError(err).Warn("could not load room state")
	}
	r.sessions.EnqueueJoin(p.ProjectId, p.UserId, connectionId, color)

	// The joiner is added to the transport room only after its catch-up messages are
	// queued, so no peer event can reach it ahead of the snapshot.
	if roomExisted {
		if snapshot, ok := r.rooms.Get(p.ProjectId); ok {
			r.transport.SendTo(connectionId, EventCanvasState, snapshot)
		}
	}
	members := r.roomMembers(p.ProjectId)
	r.transport.SendTo(connectionId, EventRoomMembers, RoomMembersMessage{ProjectId: p.ProjectId, Members: members})
	r.transport.JoinRoom(connectionId, p.ProjectId)

	r.transport.BroadcastToRoom(p.ProjectId, EventUserJoined, UserJoinedMessage{
		ConnectionId: connectionId,
		UserId:       p.UserId,
		Username:     p.DisplayName,
		Color:        color,
		ActiveUsers:  members,
	}, "")

	entry.Info("connection joined project")
	return nil
}

func (r *EventRouter) leave(connectionId string) error {
	conn, ok := r.registry.Lookup(connectionId)
	if !ok {
		return ErrNotJoined
	}

	unlock := r.locks.lock(conn.ProjectId)
	defer unlock()

	conn, ok = r.registry.Unregister(connectionId)
	if !ok {
		return ErrNotJoined
	}

	remaining := r.members.Remove(conn.ProjectId, connectionId)
	r.transport.LeaveRoom(connectionId, conn.ProjectId)

	roomEmpty := remaining == 0
	if roomEmpty {
		r.rooms.Evict(conn.ProjectId)
		metrics.ActiveRooms.Dec()
	}
	r.sessions.EnqueueLeave(conn.ProjectId, connectionId, roomEmpty)

	if !roomEmpty {
		r.transport.BroadcastToRoom(conn.ProjectId, EventUserLeft, UserLeftMessage{
			ConnectionId: connectionId,
			UserId:       conn.UserId,
			Username:     conn.DisplayName,
		}, connectionId)
	}

	log.WithFields(log.Fields{
		"project_id":    conn.ProjectId,
		"connection_id": connectionId,
		"remaining":     remaining,
	}).Info("connection left project")
	return nil
}

func (r *EventRouter) draw(connectionId string, data json.RawMessage) error {
	if _, ok := r.registry.Lookup(connectionId); !ok {
		return ErrNotJoined
	}
	p, err := decode[DrawPayload](data)
	if err != nil {
		return err
	}
	if err := ValidateDraw(p); err != nil {
		return invalid(err)
	}

	conn, ok := r.registry.Touch(connectionId)
	if !ok {
		return ErrNotJoined
	}
	r.transport.BroadcastToRoom(conn.ProjectId, EventDraw, DrawMessage{
		ConnectionId: connectionId,
		DrawData:     p.DrawData,
	}, connectionId)
	return nil
}

func (r *EventRouter) canvasUpdate(connectionId string, data json.RawMessage) error {
	conn, ok := r.registry.Lookup(connectionId)
	if !ok {
		return ErrNotJoined
	}
	p, err := decode[CanvasUpdatePayload](data)
	if err != nil {
		return err
	}
	if err := ValidateCanvasUpdate(p); err != nil {
		return invalid(err)
	}

	unlock := r.locks.lock(conn.ProjectId)
	defer unlock()

	if _, ok := r.registry.Touch(connectionId); !ok {
		return ErrNotJoined
	}
	r.rooms.Update(conn.ProjectId, p.CanvasData, p.Layers)
	return nil
}

func (r *EventRouter) cursorMove(connectionId string, data json.RawMessage) error {
	if _, ok := r.registry.Lookup(connectionId); !ok {
		return ErrNotJoined
	}
	p, err := decode[CursorMovePayload](data)
	if err != nil {
		return err
	}
	if err := ValidateCursorMove(p); err != nil {
		return invalid(err)
	}

	conn, ok := r.registry.MoveCursor(connectionId, *p.X, *p.Y)
	if !ok {
		return ErrNotJoined
	}
	r.transport.BroadcastToRoom(conn.ProjectId, EventCursorUpdate, CursorUpdateMessage{
		ConnectionId: connectionId,
		Username:     conn.DisplayName,
		Color:        conn.Color,
		X:            conn.Cursor.X,
		Y:            conn.Cursor.Y,
	}, connectionId)
	return nil
}

func (r *EventRouter) layerChange(connectionId string, data json.RawMessage) error {
	conn, ok := r.registry.Lookup(connectionId)
	if !ok {
		return ErrNotJoined
	}
	p, err := decode[LayerChangePayload](data)
	if err != nil {
		return err
	}
	if err := ValidateLayerChange(p); err != nil {
		return invalid(err)
	}

	unlock := r.locks.lock(conn.ProjectId)
	defer unlock()

	if _, ok := r.registry.Touch(connectionId); !ok {
		return ErrNotJoined
	}
	r.rooms.Update(conn.ProjectId, nil, p.Layers)
	r.transport.BroadcastToRoom(conn.ProjectId, EventLayerUpdate, LayerUpdateMessage{
		ConnectionId: connectionId,
		Layers:       p.Layers,
	}, connectionId)
	return nil
}

func (r *EventRouter) peerAction(connectionId string, eventType string) error {
	conn, ok := r.registry.Touch(connectionId)
	if !ok {
		return ErrNotJoined
	}
	r.transport.BroadcastToRoom(conn.ProjectId, eventType, PeerActionMessage{ConnectionId: connectionId}, connectionId)
	return nil
}

func (r *EventRouter) toolChange(connectionId string, data json.RawMessage) error {
	if _, ok := r.registry.Lookup(connectionId); !ok {
		return ErrNotJoined
	}
	p, err := decode[ToolChangePayload](data)
	if err != nil {
		return err
	}
	if err := ValidateToolChange(p); err != nil {
		return invalid(err)
	}

	conn, ok := r.registry.Touch(connectionId)
	if !ok {
		return ErrNotJoined
	}
	r.transport.BroadcastToRoom(conn.ProjectId, EventUserToolChange, UserToolChangeMessage{
		ConnectionId: connectionId,
		Username:     conn.DisplayName,
		Tool:         p.Tool,
	}, connectionId)
	return nil
}

func (r *EventRouter) roomMembers(projectId string) []RoomMember {
	ids := r.members.Members(projectId)
	members := make([]RoomMember, 0, len(ids))
	for _, id := range ids {
		conn, ok := r.registry.Lookup(id)
		if !ok {
			continue
		}
		members = append(members, RoomMember{
			ConnectionId: conn.Id,
			UserId:       conn.UserId,
			Username:     conn.DisplayName,
			Color:        conn.Color,
			Cursor:       conn.Cursor,
		})
	}
	return members
}
