package service

import (
	"context"
	"sync"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

const defaultSnapshotVersion = 1

// RoomStateCache holds the latest unsaved canvas state of each live room so that late
// joiners see what the room currently looks like. Entries are never persisted.
type RoomStateCache struct {
	mu        sync.RWMutex
	snapshots map[string]*models.Snapshot
	projects  store.ProjectStore
}

func NewRoomStateCache(projects store.ProjectStore) *RoomStateCache {
	return &RoomStateCache{
		snapshots: make(map[string]*models.Snapshot),
		projects:  projects,
	}
}

// EnsureLoaded seeds the room from the project's last saved version. No-op when an entry
// already exists. On error the entry stays absent.
func (c *RoomStateCache) EnsureLoaded(ctx context.Context, projectId string) error {
	c.mu.RLock()
	_, ok := c.snapshots[projectId]
	c.mu.RUnlock()
	if ok {
		return nil
	}

	project, err := c.projects.GetProject(ctx, projectId)
	if err != nil {
		return err
	}
	snapshot := snapshotFromProject(project)

	c.mu.Lock()
	defer c.mu.Unlock()
	// A canvas-update may have created the entry while the project was loading
	if _, ok := c.snapshots[projectId]; !ok {
		c.snapshots[projectId] = &snapshot
	}
	return nil
}

func snapshotFromProject(project models.Project) models.Snapshot {
	snapshot := models.Snapshot{
		Layers:  cloneLayers(project.Layers),
		Version: project.CurrentVersion,
	}
	if latest, ok := project.LatestVersion(); ok {
		snapshot.CanvasData = latest.CanvasData
		if snapshot.Version == 0 {
			snapshot.Version = latest.VersionNumber
		}
	}
	if snapshot.Version == 0 {
		snapshot.Version = defaultSnapshotVersion
	}
	if snapshot.Layers == nil {
		snapshot.Layers = []models.Layer{}
	}
	return snapshot
}

// Get returns a copy of the room's snapshot.
func (c *RoomStateCache) Get(projectId string) (models.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, ok := c.snapshots[projectId]
	if !ok {
		return models.Snapshot{}, false
	}
	return models.Snapshot{
		CanvasData: snapshot.CanvasData,
		Layers:     cloneLayers(snapshot.Layers),
		Version:    snapshot.Version,
	}, true
}

// Update merges the given fields into the room's snapshot. A nil canvasData or layers
// leaves that field untouched.
func (c *RoomStateCache) Update(projectId string, canvasData *string, layers []models.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.snapshots[projectId]
	if !ok {
		snapshot = &models.Snapshot{Layers: []models.Layer{}, Version: defaultSnapshotVersion}
		c.snapshots[projectId] = snapshot
	}
	if canvasData != nil {
		snapshot.CanvasData = *canvasData
	}
	if layers != nil {
		snapshot.Layers = cloneLayers(layers)
	}
}

// BumpVersion raises the cached version after a save. It never lowers it and never creates
// an entry.
func (c *RoomStateCache) BumpVersion(projectId string, version int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.snapshots[projectId]
	if !ok || version <= snapshot.Version {
		return false
	}
	snapshot.Version = version
	return true
}

func (c *RoomStateCache) Evict(projectId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, projectId)
}

func (c *RoomStateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

func cloneLayers(layers []models.Layer) []models.Layer {
	if layers == nil {
		return nil
	}
	out := make([]models.Layer, len(layers))
	copy(out, layers)
	return out
}
