package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/metrics"
	"github.com/zlnvch/artstudio/mq"
)

// SessionPersister mirrors room membership into the durable session record.
type SessionPersister interface {
	OnFirstJoin(ctx context.Context, projectId string, userId string, connectionId string, color string) error
	OnLeave(ctx context.Context, projectId string, connectionId string, roomEmpty bool) error
}

type sessionOpKind int

const (
	sessionJoin sessionOpKind = iota
	sessionLeave
)

func (k sessionOpKind) String() string {
	if k == sessionJoin {
		return "join"
	}
	return "leave"
}

type sessionOp struct {
	kind         sessionOpKind
	projectId    string
	userId       string
	connectionId string
	color        string
	roomEmpty    bool
}

// SessionWriter executes session persistence off the real-time path. A single goroutine
// drains the queue so operations run in the order they were enqueued.
type SessionWriter struct {
	opCh       chan sessionOp
	done       chan struct{}
	persister  SessionPersister
	retryQueue mq.MessageQueue
	opTimeout  time.Duration
}

// retryQueue may be nil, in which case failed leaves are only logged.
func NewSessionWriter(persister SessionPersister, retryQueue mq.MessageQueue, opTimeout time.Duration, bufferSize int) *SessionWriter {
	return &SessionWriter{
		opCh:       make(chan sessionOp, bufferSize),
		done:       make(chan struct{}),
		persister:  persister,
		retryQueue: retryQueue,
		opTimeout:  opTimeout,
	}
}

func (w *SessionWriter) EnqueueJoin(projectId string, userId string, connectionId string, color string) bool {
	return w.enqueue(sessionOp{
		kind:         sessionJoin,
		projectId:    projectId,
		userId:       userId,
		connectionId: connectionId,
		color:        color,
	})
}

func (w *SessionWriter) EnqueueLeave(projectId string, connectionId string, roomEmpty bool) bool {
	return w.enqueue(sessionOp{
		kind:         sessionLeave,
		projectId:    projectId,
		connectionId: connectionId,
		roomEmpty:    roomEmpty,
	})
}

// enqueue never blocks the caller
func (w *SessionWriter) enqueue(op sessionOp) bool {
	select {
	case w.opCh <- op:
		return true
	default:
		metrics.DroppedEvents.WithLabelValues(metrics.ReasonSessionQueue).Inc()
		log.WithFields(log.Fields{
			"op":            op.kind.String(),
			"project_id":    op.projectId,
			"connection_id": op.connectionId,
		}).Warn("session write queue full, dropping operation")
		if op.kind == sessionLeave {
			w.sendRetry(op)
		}
		return false
	}
}

// Done is closed once Run has flushed the queue and returned.
func (w *SessionWriter) Done() <-chan struct{} {
	return w.done
}

func (w *SessionWriter) Run(shutdownCtx context.Context) {
	defer close(w.done)

	for {
		select {
		case op := <-w.opCh:
			w.execute(op)

		case <-shutdownCtx.Done():
			// Flush whatever is already queued so leaves still end their sessions
			for {
				select {
				case op := <-w.opCh:
					w.execute(op)
				default:
					return
				}
			}
		}
	}
}

func (w *SessionWriter) execute(op sessionOp) {
	// Not derived from shutdownCtx so pending writes can finish during shutdown
	ctx, cancel := context.WithTimeout(context.Background(), w.opTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case sessionJoin:
		err = w.persister.OnFirstJoin(ctx, op.projectId, op.userId, op.connectionId, op.color)
	case sessionLeave:
		err = w.persister.OnLeave(ctx, op.projectId, op.connectionId, op.roomEmpty)
	}
	if err == nil {
		return
	}

	metrics.SessionWriteFailures.WithLabelValues(op.kind.String()).Inc()
	log.WithError(err).WithFields(log.Fields{
		"op":            op.kind.String(),
		"project_id":    op.projectId,
		"connection_id": op.connectionId,
	}).Error("session persistence failed")

	if op.kind == sessionLeave {
		w.sendRetry(op)
	}
}

func (w *SessionWriter) sendRetry(op sessionOp) {
	if w.retryQueue == nil {
		return
	}

	body, err := mq.EncodeSessionCleanup(mq.SessionCleanupMessage{
		ProjectId:    op.projectId,
		ConnectionId: op.connectionId,
		RoomEmpty:    op.roomEmpty,
		FailedAt:     time.Now(),
	})
	if err != nil {
		log.WithError(err).Error("failed to encode session cleanup message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.opTimeout)
	defer cancel()
	if err := w.retryQueue.Send(ctx, body); err != nil {
		log.WithError(err).WithField("project_id", op.projectId).Error("failed to queue session cleanup retry")
	}
}
