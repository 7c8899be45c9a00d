package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

func newTestStore(t *testing.T) *SQLiteArtStore {
	t.Helper()
	s, err := NewSQLiteArtStore(filepath.Join(t.TempDir(), "art.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func member(connectionId string, joinedAt time.Time) models.ActiveUser {
	return models.ActiveUser{
		UserId:       "user-" + connectionId,
		ConnectionId: connectionId,
		Color:        "#FF6B6B",
		JoinedAt:     joinedAt,
		LastActivity: joinedAt,
	}
}

func TestProject_PutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project := models.Project{
		Id:             "p1",
		Title:          "Harbor",
		CurrentVersion: 2,
		Layers:         []models.Layer{{Id: "l1", Name: "Ink", Data: "d", Visible: true, Opacity: 0.5}},
		Versions: []models.Version{
			{VersionNumber: 2, CanvasData: "second", Layers: []models.Layer{}, AuthorId: "u1", CreatedAt: 20},
			{VersionNumber: 1, CanvasData: "first", Layers: []models.Layer{}, AuthorId: "u1", CreatedAt: 10},
		},
	}
	require.NoError(t, s.PutProject(ctx, project))

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Harbor", got.Title)
	assert.Equal(t, project.Layers, got.Layers)
	if assert.Len(t, got.Versions, 2) {
		assert.Equal(t, 1, got.Versions[0].VersionNumber)
		assert.Equal(t, "second", got.Versions[1].CanvasData)
	}

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.UnixMilli(1_000_000)

	_, err := s.FindActiveSession(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrItemNotFound)

	session, created, err := s.CreateSession(ctx, "p1", member("c1", start))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, session.IsActive)
	assert.True(t, session.StartedAt.Equal(start))

	require.NoError(t, s.AppendMember(ctx, session.Id, member("c2", start.Add(time.Second))))
	// Appending the same connection twice keeps a single entry
	require.NoError(t, s.AppendMember(ctx, session.Id, member("c2", start.Add(2*time.Second))))

	found, err := s.FindActiveSession(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.Id, found.Id)
	if assert.Len(t, found.ActiveUsers, 2) {
		assert.Equal(t, "c1", found.ActiveUsers[0].ConnectionId)
		assert.Equal(t, "c2", found.ActiveUsers[1].ConnectionId)
	}

	require.NoError(t, s.RemoveMember(ctx, session.Id, "c1"))
	require.NoError(t, s.RemoveMember(ctx, session.Id, "c1"))

	ended := start.Add(time.Minute)
	require.NoError(t, s.Deactivate(ctx, session.Id, ended))
	assert.ErrorIs(t, s.Deactivate(ctx, session.Id, ended), store.ErrConditionFailed)

	stored, err := s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.True(t, stored.EndedAt.Equal(ended))
	assert.False(t, stored.EndedAt.Before(stored.StartedAt))

	_, err = s.FindActiveSession(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrItemNotFound)

	assert.ErrorIs(t, s.AppendMember(ctx, session.Id, member("c3", ended)), store.ErrConditionFailed)
	assert.ErrorIs(t, s.RemoveMember(ctx, "missing", "c1"), store.ErrItemNotFound)

	// A new session can start once the previous one ended
	next, created, err := s.CreateSession(ctx, "p1", member("c4", ended.Add(time.Second)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, session.Id, next.Id)
}

func TestCreateSession_ConcurrentCreatorsConverge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now()

	const creators = 8
	ids := make([]string, creators)
	createdFlags := make([]bool, creators)
	errs := make([]error, creators)

	var wg sync.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, created, err := s.CreateSession(ctx, "p1", member(string(rune('a'+i)), start))
			ids[i] = session.Id
			createdFlags[i] = created
			errs[i] = err
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < creators; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if createdFlags[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
}
