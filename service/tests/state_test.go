package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/service"
	storemocks "github.com/zlnvch/artstudio/store/mocks"
)

func TestConnectionRegistry(t *testing.T) {
	registry := service.NewConnectionRegistry()

	color, err := registry.Register("c1", "u1", "Ada", "p1")
	require.NoError(t, err)
	assert.Regexp(t, `^#[0-9A-F]{6}$`, color)

	_, err = registry.Register("c1", "u1", "Ada", "p2")
	assert.ErrorIs(t, err, service.ErrAlreadyJoined)

	conn, ok := registry.MoveCursor("c1", 4, 5)
	require.True(t, ok)
	assert.Equal(t, models.Cursor{X: 4, Y: 5}, conn.Cursor)
	assert.False(t, conn.LastActivity.Before(conn.JoinedAt))

	conn, ok = registry.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, "p1", conn.ProjectId)
	assert.Equal(t, 0, registry.Count())

	_, err = registry.Register("c1", "u1", "Ada", "p1")
	assert.ErrorIs(t, err, service.ErrConnectionRetired)

	registry.Forget("c1")
	_, err = registry.Register("c1", "u1", "Ada", "p1")
	assert.NoError(t, err)

	_, ok = registry.Touch("unknown")
	assert.False(t, ok)
}

func TestMembershipIndex(t *testing.T) {
	index := service.NewMembershipIndex()

	assert.True(t, index.Add("p1", "c2"))
	assert.False(t, index.Add("p1", "c1"))
	assert.True(t, index.Add("p2", "c3"))

	assert.Equal(t, []string{"c1", "c2"}, index.Members("p1"))
	assert.Equal(t, 2, index.RoomCount())

	assert.Equal(t, 1, index.Remove("p1", "c2"))
	assert.Equal(t, 0, index.Remove("p1", "c1"))
	assert.Equal(t, 0, index.Count("p1"))
	assert.Equal(t, 1, index.RoomCount())
	assert.Empty(t, index.Members("p1"))

	assert.Equal(t, 0, index.Remove("missing", "c1"))
}

func TestRoomStateCache_SeedsFromLatestVersion(t *testing.T) {
	mockProjects := new(storemocks.MockProjectStore)
	rooms := service.NewRoomStateCache(mockProjects)
	ctx := context.Background()

	mockProjects.On("GetProject", ctx, "p1").Return(testProject("p1"), nil).Once()

	require.NoError(t, rooms.EnsureLoaded(ctx, "p1"))
	// Second load is served from memory
	require.NoError(t, rooms.EnsureLoaded(ctx, "p1"))
	mockProjects.AssertNumberOfCalls(t, "GetProject", 1)

	snapshot, ok := rooms.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "v3", snapshot.CanvasData)
	assert.Equal(t, 3, snapshot.Version)
	assert.Len(t, snapshot.Layers, 1)

	// Get hands out copies
	snapshot.Layers[0].Name = "mutated"
	again, _ := rooms.Get("p1")
	assert.Equal(t, "Background", again.Layers[0].Name)
}

func TestRoomStateCache_DefaultsForNewProject(t *testing.T) {
	mockProjects := new(storemocks.MockProjectStore)
	rooms := service.NewRoomStateCache(mockProjects)
	ctx := context.Background()

	mockProjects.On("GetProject", ctx, "fresh").Return(models.Project{Id: "fresh"}, nil)
	require.NoError(t, rooms.EnsureLoaded(ctx, "fresh"))

	snapshot, _ := rooms.Get("fresh")
	assert.Equal(t, "", snapshot.CanvasData)
	assert.Equal(t, 1, snapshot.Version)
	assert.NotNil(t, snapshot.Layers)
}

func TestRoomStateCache_LoadFailureLeavesNoEntry(t *testing.T) {
	mockProjects := new(storemocks.MockProjectStore)
	rooms := service.NewRoomStateCache(mockProjects)
	ctx := context.Background()

	mockProjects.On("GetProject", ctx, "p1").Return(models.Project{}, errors.New("unavailable"))

	assert.Error(t, rooms.EnsureLoaded(ctx, "p1"))
	_, ok := rooms.Get("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, rooms.Len())
}

func TestRoomStateCache_UpdateAndBump(t *testing.T) {
	rooms := service.NewRoomStateCache(new(storemocks.MockProjectStore))

	canvas := "c1"
	rooms.Update("p1", &canvas, nil)
	snapshot, ok := rooms.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "c1", snapshot.CanvasData)
	assert.Equal(t, 1, snapshot.Version)

	layers := []models.Layer{{Id: "l1"}}
	rooms.Update("p1", nil, layers)
	snapshot, _ = rooms.Get("p1")
	assert.Equal(t, "c1", snapshot.CanvasData)
	assert.Equal(t, layers, snapshot.Layers)

	assert.True(t, rooms.BumpVersion("p1", 2))
	assert.False(t, rooms.BumpVersion("p1", 2))
	assert.False(t, rooms.BumpVersion("p1", 1))
	assert.False(t, rooms.BumpVersion("p2", 9))
	assert.Equal(t, 1, rooms.Len())

	rooms.Evict("p1")
	assert.Equal(t, 0, rooms.Len())
}
