package models

import "time"

type User struct {
	Id       string
	Username string
}

type Layer struct {
	Id      string  `json:"id"`
	Name    string  `json:"name"`
	Data    string  `json:"data"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
}

type Version struct {
	VersionNumber int     `json:"versionNumber"`
	CanvasData    string  `json:"canvasData"`
	Layers        []Layer `json:"layers"`
	Message       string  `json:"message"`
	AuthorId      string  `json:"authorId"`
	CreatedAt     int64   `json:"createdAt"`
}

// Project is the read-only view of a project needed to seed a room.
type Project struct {
	Id             string    `json:"id"`
	Title          string    `json:"title"`
	CurrentVersion int       `json:"currentVersion"`
	Layers         []Layer   `json:"layers"`
	Versions       []Version `json:"versions"`
}

// LatestVersion returns the most recent version of the project, if any.
func (p Project) LatestVersion() (Version, bool) {
	if len(p.Versions) == 0 {
		return Version{}, false
	}
	latest := p.Versions[0]
	for _, v := range p.Versions[1:] {
		if v.VersionNumber >= latest.VersionNumber {
			latest = v
		}
	}
	return latest, true
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is one live transport link that has joined a project room.
type Connection struct {
	Id           string
	UserId       string
	DisplayName  string
	ProjectId    string
	Color        string
	Cursor       Cursor
	JoinedAt     time.Time
	LastActivity time.Time
}

// Snapshot is the in-memory canvas state of a room. It is never persisted.
type Snapshot struct {
	CanvasData string  `json:"canvasData"`
	Layers     []Layer `json:"layers"`
	Version    int     `json:"version"`
}

type ActiveUser struct {
	UserId       string    `json:"userId"`
	ConnectionId string    `json:"connectionId"`
	Color        string    `json:"color"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Session is the durable audit record of a room's lifetime.
type Session struct {
	Id          string       `json:"id"`
	ProjectId   string       `json:"projectId"`
	ActiveUsers []ActiveUser `json:"activeUsers"`
	IsActive    bool         `json:"isActive"`
	StartedAt   time.Time    `json:"startedAt"`
	EndedAt     time.Time    `json:"endedAt,omitzero"`
}

// HasMember reports whether the session already lists the connection.
func (s Session) HasMember(connectionId string) bool {
	for _, u := range s.ActiveUsers {
		if u.ConnectionId == connectionId {
			return true
		}
	}
	return false
}
