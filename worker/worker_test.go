package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/artstudio/mq"
	mqmocks "github.com/zlnvch/artstudio/mq/mocks"
	"github.com/zlnvch/artstudio/worker"
)

type recordingPersister struct {
	mock.Mock
	mu    sync.Mutex
	calls []string
}

func (p *recordingPersister) OnFirstJoin(ctx context.Context, projectId string, userId string, connectionId string, color string) error {
	p.mu.Lock()
	p.calls = append(p.calls, "join:"+connectionId)
	p.mu.Unlock()
	args := p.Called(ctx, projectId, userId, connectionId, color)
	return args.Error(0)
}

func (p *recordingPersister) OnLeave(ctx context.Context, projectId string, connectionId string, roomEmpty bool) error {
	p.mu.Lock()
	p.calls = append(p.calls, "leave:"+connectionId)
	p.mu.Unlock()
	args := p.Called(ctx, projectId, connectionId, roomEmpty)
	return args.Error(0)
}

func (p *recordingPersister) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fixedPresence map[string]int

func (f fixedPresence) MemberCount(projectId string) int {
	return f[projectId]
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker to stop")
	}
}

func TestSessionWriter_ExecutesInEnqueueOrder(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnFirstJoin", mock.Anything, "p1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	persister.On("OnLeave", mock.Anything, "p1", mock.Anything, mock.Anything).Return(nil)

	writer := worker.NewSessionWriter(persister, nil, time.Second, 16)

	assert.True(t, writer.EnqueueJoin("p1", "u1", "c1", "#FF6B6B"))
	assert.True(t, writer.EnqueueJoin("p1", "u2", "c2", "#4ECDC4"))
	assert.True(t, writer.EnqueueLeave("p1", "c1", false))
	assert.True(t, writer.EnqueueLeave("p1", "c2", true))

	ctx, cancel := context.WithCancel(context.Background())
	go writer.Run(ctx)

	assert.Eventually(t, func() bool { return len(persister.recorded()) == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	waitClosed(t, writer.Done())

	assert.Equal(t, []string{"join:c1", "join:c2", "leave:c1", "leave:c2"}, persister.recorded())
	persister.AssertCalled(t, "OnLeave", mock.Anything, "p1", "c2", true)
}

func TestSessionWriter_FlushesQueueOnShutdown(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnLeave", mock.Anything, "p1", mock.Anything, mock.Anything).Return(nil)

	writer := worker.NewSessionWriter(persister, nil, time.Second, 16)
	writer.EnqueueLeave("p1", "c1", false)
	writer.EnqueueLeave("p1", "c2", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer.Run(ctx)

	assert.Equal(t, []string{"leave:c1", "leave:c2"}, persister.recorded())
}

func TestSessionWriter_FailedLeaveIsQueuedForRetry(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnLeave", mock.Anything, "p1", "c1", true).Return(errors.New("dynamo unavailable"))

	mockMQ := new(mqmocks.MockMQ)
	var sentBody string
	mockMQ.On("Send", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { sentBody = args.String(1) }).
		Return(nil)

	writer := worker.NewSessionWriter(persister, mockMQ, time.Second, 16)
	writer.EnqueueLeave("p1", "c1", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer.Run(ctx)

	mockMQ.AssertNumberOfCalls(t, "Send", 1)
	msg, err := mq.DecodeSessionCleanup(sentBody)
	require.NoError(t, err)
	assert.Equal(t, "p1", msg.ProjectId)
	assert.Equal(t, "c1", msg.ConnectionId)
	assert.True(t, msg.RoomEmpty)
}

func TestSessionWriter_FailedJoinIsNotRetried(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnFirstJoin", mock.Anything, "p1", "u1", "c1", "#FF6B6B").Return(errors.New("boom"))

	mockMQ := new(mqmocks.MockMQ)

	writer := worker.NewSessionWriter(persister, mockMQ, time.Second, 16)
	writer.EnqueueJoin("p1", "u1", "c1", "#FF6B6B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer.Run(ctx)

	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSessionWriter_EnqueueNeverBlocks(t *testing.T) {
	persister := &recordingPersister{}
	mockMQ := new(mqmocks.MockMQ)
	mockMQ.On("Send", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	writer := worker.NewSessionWriter(persister, mockMQ, time.Second, 1)

	assert.True(t, writer.EnqueueJoin("p1", "u1", "c1", "#FF6B6B"))
	assert.False(t, writer.EnqueueJoin("p1", "u2", "c2", "#FF6B6B"))
	// A dropped leave is handed to the retry queue instead
	assert.False(t, writer.EnqueueLeave("p1", "c1", true))
	mockMQ.AssertNumberOfCalls(t, "Send", 1)
}

func cleanupBody(t *testing.T, projectId string, connectionId string, roomEmpty bool) string {
	t.Helper()
	body, err := mq.EncodeSessionCleanup(mq.SessionCleanupMessage{
		ProjectId:    projectId,
		ConnectionId: connectionId,
		RoomEmpty:    roomEmpty,
		FailedAt:     time.Now(),
	})
	require.NoError(t, err)
	return body
}

func runConsumerOnce(t *testing.T, msgs []mq.Message, persister worker.SessionPersister, presence worker.RoomPresence) *mqmocks.MockMQ {
	t.Helper()
	mockMQ := new(mqmocks.MockMQ)
	mockMQ.On("Receive", mock.Anything, int32(10), int32(60)).Return(msgs, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(10), int32(60)).Return(nil, context.Canceled)
	mockMQ.On("Delete", mock.Anything, mock.Anything).Return(nil)

	consumer := worker.NewCleanupConsumer(mockMQ, persister, presence)

	done := make(chan struct{})
	go func() {
		consumer.Run(context.Background())
		close(done)
	}()
	waitClosed(t, done)
	return mockMQ
}

func TestCleanupConsumer_ReplaysLeaveAndDeletes(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnLeave", mock.Anything, "p1", "c1", true).Return(nil)

	msg := mq.Message{Id: "r1", Body: cleanupBody(t, "p1", "c1", true), ReceiveCount: 1}
	mockMQ := runConsumerOnce(t, []mq.Message{msg}, persister, fixedPresence{})

	persister.AssertExpectations(t)
	mockMQ.AssertCalled(t, "Delete", mock.Anything, msg)
}

func TestCleanupConsumer_DoesNotEndRepopulatedRoom(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnLeave", mock.Anything, "p1", "c1", false).Return(nil)

	msg := mq.Message{Id: "r1", Body: cleanupBody(t, "p1", "c1", true), ReceiveCount: 1}
	runConsumerOnce(t, []mq.Message{msg}, persister, fixedPresence{"p1": 2})

	persister.AssertCalled(t, "OnLeave", mock.Anything, "p1", "c1", false)
	persister.AssertNotCalled(t, "OnLeave", mock.Anything, "p1", "c1", true)
}

func TestCleanupConsumer_KeepsMessageOnFailure(t *testing.T) {
	persister := &recordingPersister{}
	persister.On("OnLeave", mock.Anything, "p1", "c1", true).Return(errors.New("still down"))

	msg := mq.Message{Id: "r1", Body: cleanupBody(t, "p1", "c1", true), ReceiveCount: 2}
	mockMQ := runConsumerOnce(t, []mq.Message{msg}, persister, fixedPresence{})

	mockMQ.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestCleanupConsumer_DiscardsMalformedAndExhausted(t *testing.T) {
	persister := &recordingPersister{}

	malformed := mq.Message{Id: "r1", Body: "{", ReceiveCount: 1}
	exhausted := mq.Message{Id: "r2", Body: cleanupBody(t, "p1", "c1", true), ReceiveCount: 6}
	mockMQ := runConsumerOnce(t, []mq.Message{malformed, exhausted}, persister, fixedPresence{})

	persister.AssertNotCalled(t, "OnLeave", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockMQ.AssertCalled(t, "Delete", mock.Anything, malformed)
	mockMQ.AssertCalled(t, "Delete", mock.Anything, exhausted)
}
