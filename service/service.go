package service

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/cache"
	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

type Service struct {
	Projects  *CachedProjectStore
	Sessions  store.SessionStore
	Cache     cache.ArtCache
	Router    *EventRouter
	JWTSecret []byte
}

// artCache may be nil when no Redis is configured.
func NewService(
	projectStore store.ProjectStore,
	sessionStore store.SessionStore,
	artCache cache.ArtCache,
	sessionQueue SessionQueue,
	transport Transport,
	jwtSecret []byte,
) *Service {
	projects := NewCachedProjectStore(projectStore, artCache)

	return &Service{
		Projects:  projects,
		Sessions:  sessionStore,
		Cache:     artCache,
		Router:    NewEventRouter(projects, sessionQueue, transport),
		JWTSecret: jwtSecret,
	}
}

// InitSubscriptions listens for saved project versions announced by the project service.
func (s *Service) InitSubscriptions(shutdownCtx context.Context) error {
	if s.Cache == nil {
		return nil
	}

	err := s.Cache.Subscribe(shutdownCtx, cache.ProjectUpdatedChannel, s.handleProjectUpdated)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to project updates")
		return err
	}
	return nil
}

func (s *Service) handleProjectUpdated(message []byte) {
	var update cache.ProjectUpdated
	if err := json.Unmarshal(message, &update); err != nil || update.ProjectId == "" {
		log.WithField("payload", string(message)).Warn("ignoring malformed project-updated message")
		return
	}

	if err := s.Projects.Invalidate(context.Background(), update.ProjectId); err != nil {
		log.WithError(err).WithField("project_id", update.ProjectId).Warn("failed to invalidate cached project")
	}
	s.Router.OnProjectSaved(update.ProjectId, update.Version)
}

// ActiveSession returns the persisted active session of a project.
func (s *Service) ActiveSession(ctx context.Context, projectId string) (models.Session, error) {
	if err := ValidateProjectId(projectId); err != nil {
		return models.Session{}, invalid(err)
	}
	return s.Sessions.FindActiveSession(ctx, projectId)
}

func (s *Service) Presence(projectId string) ([]RoomMember, error) {
	if err := ValidateProjectId(projectId); err != nil {
		return nil, invalid(err)
	}
	return s.Router.Presence(projectId), nil
}
