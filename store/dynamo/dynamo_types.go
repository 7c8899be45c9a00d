package dynamo

import (
	"sort"
	"time"

	"github.com/zlnvch/artstudio/models"
)

const (
	projectSK       = "PROJECT"
	activeSessionSK = "ACTIVE_SESSION"
	sessionSK       = "SESSION"
)

func projectKey(projectId string) string {
	return "PROJECT#" + projectId
}

func sessionKey(sessionId string) string {
	return "SESSION#" + sessionId
}

type dynamoLayer struct {
	Id      string  `dynamodbav:"Id"`
	Name    string  `dynamodbav:"Name"`
	Data    string  `dynamodbav:"Data"`
	Visible bool    `dynamodbav:"Visible"`
	Opacity float64 `dynamodbav:"Opacity"`
}

type dynamoVersion struct {
	VersionNumber int           `dynamodbav:"VersionNumber"`
	CanvasData    string        `dynamodbav:"CanvasData"`
	Layers        []dynamoLayer `dynamodbav:"Layers"`
	Message       string        `dynamodbav:"Message"`
	AuthorId      string        `dynamodbav:"AuthorId"`
	CreatedAt     int64         `dynamodbav:"CreatedAt"`
}

type dynamoProject struct {
	PK             string          `dynamodbav:"PK"`
	SK             string          `dynamodbav:"SK"`
	Id             string          `dynamodbav:"Id"`
	Title          string          `dynamodbav:"Title"`
	CurrentVersion int             `dynamodbav:"CurrentVersion"`
	Layers         []dynamoLayer   `dynamodbav:"Layers"`
	Versions       []dynamoVersion `dynamodbav:"Versions"`
}

func layersFromDynamo(dl []dynamoLayer) []models.Layer {
	layers := make([]models.Layer, 0, len(dl))
	for _, l := range dl {
		layers = append(layers, models.Layer{Id: l.Id, Name: l.Name, Data: l.Data, Visible: l.Visible, Opacity: l.Opacity})
	}
	return layers
}

func layersToDynamo(layers []models.Layer) []dynamoLayer {
	dl := make([]dynamoLayer, 0, len(layers))
	for _, l := range layers {
		dl = append(dl, dynamoLayer{Id: l.Id, Name: l.Name, Data: l.Data, Visible: l.Visible, Opacity: l.Opacity})
	}
	return dl
}

// Map Dynamo -> domain Project
func projectFromDynamo(dp dynamoProject) models.Project {
	versions := make([]models.Version, 0, len(dp.Versions))
	for _, v := range dp.Versions {
		versions = append(versions, models.Version{
			VersionNumber: v.VersionNumber,
			CanvasData:    v.CanvasData,
			Layers:        layersFromDynamo(v.Layers),
			Message:       v.Message,
			AuthorId:      v.AuthorId,
			CreatedAt:     v.CreatedAt,
		})
	}

	return models.Project{
		Id:             dp.Id,
		Title:          dp.Title,
		CurrentVersion: dp.CurrentVersion,
		Layers:         layersFromDynamo(dp.Layers),
		Versions:       versions,
	}
}

// Map domain Project -> Dynamo
func projectToDynamo(p models.Project) dynamoProject {
	versions := make([]dynamoVersion, 0, len(p.Versions))
	for _, v := range p.Versions {
		versions = append(versions, dynamoVersion{
			VersionNumber: v.VersionNumber,
			CanvasData:    v.CanvasData,
			Layers:        layersToDynamo(v.Layers),
			Message:       v.Message,
			AuthorId:      v.AuthorId,
			CreatedAt:     v.CreatedAt,
		})
	}

	return dynamoProject{
		PK:             projectKey(p.Id),
		SK:             projectSK,
		Id:             p.Id,
		Title:          p.Title,
		CurrentVersion: p.CurrentVersion,
		Layers:         layersToDynamo(p.Layers),
		Versions:       versions,
	}
}

// dynamoActiveSession points a project at its single active session. Its conditional
// creation is what makes session creation idempotent.
type dynamoActiveSession struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	SessionId string `dynamodbav:"SessionId"`
}

type dynamoActiveUser struct {
	UserId       string `dynamodbav:"UserId"`
	ConnectionId string `dynamodbav:"ConnectionId"`
	Color        string `dynamodbav:"Color"`
	JoinedAt     int64  `dynamodbav:"JoinedAt"`
	LastActivity int64  `dynamodbav:"LastActivity"`
}

// Active users are stored as a map keyed by connection id so that a single member can be
// added or removed with one update expression.
type dynamoSession struct {
	PK          string                      `dynamodbav:"PK"`
	SK          string                      `dynamodbav:"SK"`
	Id          string                      `dynamodbav:"Id"`
	ProjectId   string                      `dynamodbav:"ProjectId"`
	IsActive    bool                        `dynamodbav:"IsActive"`
	StartedAt   int64                       `dynamodbav:"StartedAt"`
	EndedAt     int64                       `dynamodbav:"EndedAt"`
	ActiveUsers map[string]dynamoActiveUser `dynamodbav:"ActiveUsers"`
}

func activeUserToDynamo(u models.ActiveUser) dynamoActiveUser {
	return dynamoActiveUser{
		UserId:       u.UserId,
		ConnectionId: u.ConnectionId,
		Color:        u.Color,
		JoinedAt:     u.JoinedAt.UnixMilli(),
		LastActivity: u.LastActivity.UnixMilli(),
	}
}

func activeUserFromDynamo(du dynamoActiveUser) models.ActiveUser {
	return models.ActiveUser{
		UserId:       du.UserId,
		ConnectionId: du.ConnectionId,
		Color:        du.Color,
		JoinedAt:     time.UnixMilli(du.JoinedAt),
		LastActivity: time.UnixMilli(du.LastActivity),
	}
}

// Map domain Session -> Dynamo
func sessionToDynamo(s models.Session) dynamoSession {
	users := make(map[string]dynamoActiveUser, len(s.ActiveUsers))
	for _, u := range s.ActiveUsers {
		users[u.ConnectionId] = activeUserToDynamo(u)
	}

	var endedAt int64
	if !s.EndedAt.IsZero() {
		endedAt = s.EndedAt.UnixMilli()
	}

	return dynamoSession{
		PK:          sessionKey(s.Id),
		SK:          sessionSK,
		Id:          s.Id,
		ProjectId:   s.ProjectId,
		IsActive:    s.IsActive,
		StartedAt:   s.StartedAt.UnixMilli(),
		EndedAt:     endedAt,
		ActiveUsers: users,
	}
}

// Map Dynamo -> domain Session, active users ordered by join time
func sessionFromDynamo(ds dynamoSession) models.Session {
	users := make([]models.ActiveUser, 0, len(ds.ActiveUsers))
	for _, du := range ds.ActiveUsers {
		users = append(users, activeUserFromDynamo(du))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ConnectionId < users[j].ConnectionId
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})

	var endedAt time.Time
	if ds.EndedAt != 0 {
		endedAt = time.UnixMilli(ds.EndedAt)
	}

	return models.Session{
		Id:          ds.Id,
		ProjectId:   ds.ProjectId,
		ActiveUsers: users,
		IsActive:    ds.IsActive,
		StartedAt:   time.UnixMilli(ds.StartedAt),
		EndedAt:     endedAt,
	}
}
