package mq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCleanupMessage_Encoding(t *testing.T) {
	failedAt := time.UnixMilli(1_700_000_000_000).UTC()
	body, err := EncodeSessionCleanup(SessionCleanupMessage{
		ProjectId:    "p1",
		ConnectionId: "c1",
		RoomEmpty:    true,
		FailedAt:     failedAt,
	})
	require.NoError(t, err)

	msg, err := DecodeSessionCleanup(body)
	require.NoError(t, err)
	assert.Equal(t, "p1", msg.ProjectId)
	assert.Equal(t, "c1", msg.ConnectionId)
	assert.True(t, msg.RoomEmpty)
	assert.True(t, msg.FailedAt.Equal(failedAt))
}

func TestDecodeSessionCleanup_Rejects(t *testing.T) {
	_, err := DecodeSessionCleanup("not json")
	assert.Error(t, err)

	_, err = DecodeSessionCleanup(`{"projectId":"p1"}`)
	assert.Error(t, err)
}
