package worker

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/metrics"
	"github.com/zlnvch/artstudio/mq"
)

// RoomPresence reports how many connections are currently joined to a project room.
type RoomPresence interface {
	MemberCount(projectId string) int
}

// CleanupConsumer replays session leaves that failed on the real-time path.
type CleanupConsumer struct {
	cleanupQueue mq.MessageQueue
	persister    SessionPersister
	presence     RoomPresence
}

func NewCleanupConsumer(cleanupQueue mq.MessageQueue, persister SessionPersister, presence RoomPresence) *CleanupConsumer {
	return &CleanupConsumer{
		cleanupQueue: cleanupQueue,
		persister:    persister,
		presence:     presence,
	}
}

const (
	visibilityTimeout = 60
	receiveBatch      = 10
	// Messages handed out more often than this are discarded
	maxCleanupAttempts = 5
)

func (c *CleanupConsumer) Run(shutdownCtx context.Context) {
	for {
		msgs, err := c.cleanupQueue.Receive(shutdownCtx, receiveBatch, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.WithError(err).Error("cleanup consumer receive error")
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.process(msg)
		}
	}
}

func (c *CleanupConsumer) process(msg mq.Message) {
	cleanup, err := mq.DecodeSessionCleanup(msg.Body)
	if err != nil {
		log.WithError(err).Warn("discarding malformed session cleanup message")
		metrics.CleanupRetries.WithLabelValues("malformed").Inc()
		c.delete(msg)
		return
	}

	entry := log.WithFields(log.Fields{
		"project_id":    cleanup.ProjectId,
		"connection_id": cleanup.ConnectionId,
	})

	if msg.ReceiveCount > maxCleanupAttempts {
		entry.Error("giving up on session cleanup")
		metrics.CleanupRetries.WithLabelValues("abandoned").Inc()
		c.delete(msg)
		return
	}

	// Someone joined the room again since the failure: the session must stay open
	roomEmpty := cleanup.RoomEmpty && c.presence.MemberCount(cleanup.ProjectId) == 0

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)
	defer cancel()

	if err := c.persister.OnLeave(ctx, cleanup.ProjectId, cleanup.ConnectionId, roomEmpty); err != nil {
		entry.WithError(err).Warn("session cleanup retry failed")
		metrics.CleanupRetries.WithLabelValues("failed").Inc()
		return
	}

	metrics.CleanupRetries.WithLabelValues("succeeded").Inc()
	c.delete(msg)
}

func (c *CleanupConsumer) delete(msg mq.Message) {
	if err := c.cleanupQueue.Delete(context.Background(), msg); err != nil {
		log.WithError(err).Error("cleanup consumer delete error")
	}
}
