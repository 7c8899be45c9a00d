package service

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/cache"
	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

// CachedProjectStore reads projects through the shared cache and falls back to the store.
// A nil cache reads straight from the store.
type CachedProjectStore struct {
	store store.ProjectStore
	cache cache.ArtCache
}

func NewCachedProjectStore(projectStore store.ProjectStore, artCache cache.ArtCache) *CachedProjectStore {
	return &CachedProjectStore{store: projectStore, cache: artCache}
}

func (p *CachedProjectStore) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	if p.cache != nil {
		project, err := p.cache.GetProject(ctx, projectId)
		if err == nil {
			return project, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.WithError(err).WithField("project_id", projectId).Warn("project cache read failed")
		}
	}

	project, err := p.store.GetProject(ctx, projectId)
	if err != nil {
		return models.Project{}, err
	}

	if p.cache != nil {
		if err := p.cache.SetProject(ctx, project); err != nil {
			log.WithError(err).WithField("project_id", projectId).Warn("project cache write failed")
		}
	}

	return project, nil
}

func (p *CachedProjectStore) Invalidate(ctx context.Context, projectId string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.InvalidateProject(ctx, projectId)
}
