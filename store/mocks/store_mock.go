package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/artstudio/models"
)

type MockProjectStore struct {
	mock.Mock
}

func (m *MockProjectStore) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	args := m.Called(ctx, projectId)
	return args.Get(0).(models.Project), args.Error(1)
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) FindActiveSession(ctx context.Context, projectId string) (models.Session, error) {
	args := m.Called(ctx, projectId)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockSessionStore) CreateSession(ctx context.Context, projectId string, member models.ActiveUser) (models.Session, bool, error) {
	args := m.Called(ctx, projectId, member)
	return args.Get(0).(models.Session), args.Bool(1), args.Error(2)
}

func (m *MockSessionStore) AppendMember(ctx context.Context, sessionId string, member models.ActiveUser) error {
	args := m.Called(ctx, sessionId, member)
	return args.Error(0)
}

func (m *MockSessionStore) RemoveMember(ctx context.Context, sessionId string, connectionId string) error {
	args := m.Called(ctx, sessionId, connectionId)
	return args.Error(0)
}

func (m *MockSessionStore) Deactivate(ctx context.Context, sessionId string, endedAt time.Time) error {
	args := m.Called(ctx, sessionId, endedAt)
	return args.Error(0)
}
