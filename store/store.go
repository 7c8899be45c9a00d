package store

import (
	"context"
	"errors"
	"time"

	"github.com/zlnvch/artstudio/models"
)

type ProjectStore interface {
	GetProject(ctx context.Context, projectId string) (models.Project, error)
}

type SessionStore interface {
	FindActiveSession(ctx context.Context, projectId string) (models.Session, error)
	// CreateSession creates an active session for the project with member as the sole
	// active user. If an active session already exists it is returned with created=false.
	CreateSession(ctx context.Context, projectId string, member models.ActiveUser) (session models.Session, created bool, err error)
	AppendMember(ctx context.Context, sessionId string, member models.ActiveUser) error
	RemoveMember(ctx context.Context, sessionId string, connectionId string) error
	Deactivate(ctx context.Context, sessionId string, endedAt time.Time) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
