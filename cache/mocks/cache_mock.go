package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/artstudio/models"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	args := m.Called(ctx, projectId)
	return args.Get(0).(models.Project), args.Error(1)
}

func (m *MockCache) SetProject(ctx context.Context, project models.Project) error {
	args := m.Called(ctx, project)
	return args.Error(0)
}

func (m *MockCache) InvalidateProject(ctx context.Context, projectId string) error {
	args := m.Called(ctx, projectId)
	return args.Error(0)
}
