package cache

import (
	"context"
	"errors"

	"github.com/zlnvch/artstudio/models"
)

// Channel on which the project service announces saved versions
const ProjectUpdatedChannel = "project-updated"

var ErrCacheMiss = errors.New("cache miss")

type ArtCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// GetProject returns ErrCacheMiss when the project is not cached.
	GetProject(ctx context.Context, projectId string) (models.Project, error)
	SetProject(ctx context.Context, project models.Project) error
	InvalidateProject(ctx context.Context, projectId string) error
}

// ProjectUpdated is the payload published on ProjectUpdatedChannel.
type ProjectUpdated struct {
	ProjectId string `json:"projectId"`
	Version   int    `json:"version"`
}
