package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

// SessionCoordinator mirrors room membership into the persisted session record. Every
// operation is an idempotent upsert or removal so that retries and racing joins converge.
type SessionCoordinator struct {
	sessions store.SessionStore
	now      func() time.Time
}

func NewSessionCoordinator(sessions store.SessionStore) *SessionCoordinator {
	return &SessionCoordinator{sessions: sessions, now: time.Now}
}

// OnFirstJoin records a connection joining the project's room, creating the active session
// if the project has none.
func (c *SessionCoordinator) OnFirstJoin(ctx context.Context, projectId string, userId string, connectionId string, color string) error {
	now := c.now()
	member := models.ActiveUser{
		UserId:       userId,
		ConnectionId: connectionId,
		Color:        color,
		JoinedAt:     now,
		LastActivity: now,
	}

	session, err := c.sessions.FindActiveSession(ctx, projectId)
	if errors.Is(err, store.ErrItemNotFound) {
		return c.createOrJoin(ctx, projectId, member)
	}
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}

	if session.HasMember(connectionId) {
		return nil
	}

	err = c.sessions.AppendMember(ctx, session.Id, member)
	if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrItemNotFound) {
		// The session ended between the lookup and the append
		return c.createOrJoin(ctx, projectId, member)
	}
	if err != nil {
		return fmt.Errorf("append session member: %w", err)
	}
	return nil
}

func (c *SessionCoordinator) createOrJoin(ctx context.Context, projectId string, member models.ActiveUser) error {
	session, created, err := c.sessions.CreateSession(ctx, projectId, member)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created || session.HasMember(member.ConnectionId) {
		return nil
	}

	// Lost the creation race: join the winner's session
	if err := c.sessions.AppendMember(ctx, session.Id, member); err != nil {
		return fmt.Errorf("append session member: %w", err)
	}
	return nil
}

// OnLeave removes the connection from the active session and ends the session when the
// room has emptied.
func (c *SessionCoordinator) OnLeave(ctx context.Context, projectId string, connectionId string, roomEmpty bool) error {
	session, err := c.sessions.FindActiveSession(ctx, projectId)
	if errors.Is(err, store.ErrItemNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}

	if err := c.sessions.RemoveMember(ctx, session.Id, connectionId); err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("remove session member: %w", err)
	}

	if !roomEmpty {
		return nil
	}

	endedAt := c.now()
	if endedAt.Before(session.StartedAt) {
		endedAt = session.StartedAt
	}
	err = c.sessions.Deactivate(ctx, session.Id, endedAt)
	if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrItemNotFound) {
		// Already ended
		return nil
	}
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}
