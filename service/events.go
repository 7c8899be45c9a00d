package service

import (
	"encoding/json"

	"github.com/zlnvch/artstudio/models"
)

// Inbound event types
const (
	EventJoin         = "join"
	EventDraw         = "draw"
	EventCanvasUpdate = "canvas-update"
	EventCursorMove   = "cursor-move"
	EventLayerChange  = "layer-change"
	EventUndo         = "undo"
	EventRedo         = "redo"
	EventClearCanvas  = "clear-canvas"
	EventToolChange   = "tool-change"
	EventLeave        = "leave"
)

// Outbound event types
const (
	EventCanvasState    = "canvas-state"
	EventRoomMembers    = "room-members"
	EventUserJoined     = "user-joined"
	EventCursorUpdate   = "cursor-update"
	EventLayerUpdate    = "layer-update"
	EventUserToolChange = "user-tool-change"
	EventUserLeft       = "user-left"
	EventVersionSaved   = "version-saved"
)

type JoinPayload struct {
	ProjectId   string `json:"projectId"`
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type DrawPayload struct {
	DrawData json.RawMessage `json:"drawData"`
}

type CanvasUpdatePayload struct {
	CanvasData *string        `json:"canvasData"`
	Layers     []models.Layer `json:"layers"`
}

type CursorMovePayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type LayerChangePayload struct {
	Layers []models.Layer `json:"layers"`
}

type ToolChangePayload struct {
	Tool string `json:"tool"`
}

type RoomMember struct {
	ConnectionId string        `json:"connectionId"`
	UserId       string        `json:"userId"`
	Username     string        `json:"username"`
	Color        string        `json:"color"`
	Cursor       models.Cursor `json:"cursor"`
}

type RoomMembersMessage struct {
	ProjectId string       `json:"projectId"`
	Members   []RoomMember `json:"members"`
}

type UserJoinedMessage struct {
	ConnectionId string       `json:"connectionId"`
	UserId       string       `json:"userId"`
	Username     string       `json:"username"`
	Color        string       `json:"color"`
	ActiveUsers  []RoomMember `json:"activeUsers"`
}

type DrawMessage struct {
	ConnectionId string          `json:"connectionId"`
	DrawData     json.RawMessage `json:"drawData"`
}

type CursorUpdateMessage struct {
	ConnectionId string  `json:"connectionId"`
	Username     string  `json:"username"`
	Color        string  `json:"color"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

type LayerUpdateMessage struct {
	ConnectionId string         `json:"connectionId"`
	Layers       []models.Layer `json:"layers"`
}

// Relayed as-is for undo, redo and clear-canvas
type PeerActionMessage struct {
	ConnectionId string `json:"connectionId"`
}

type UserToolChangeMessage struct {
	ConnectionId string `json:"connectionId"`
	Username     string `json:"username"`
	Tool         string `json:"tool"`
}

type UserLeftMessage struct {
	ConnectionId string `json:"connectionId"`
	UserId       string `json:"userId"`
	Username     string `json:"username"`
}

type VersionSavedMessage struct {
	Version int `json:"version"`
}
