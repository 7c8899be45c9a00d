package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	// Receive long-polls for up to maxMessages. An empty slice means nothing arrived this poll.
	Receive(ctx context.Context, maxMessages int32, visibilityTimeout int32) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
}

type Message struct {
	Id   string
	Body string
	// Number of times the queue has handed this message out, 0 if unknown
	ReceiveCount int
}

// SessionCleanupMessage asks a consumer to retry removing a connection from the persisted
// session of a project, and to end the session if the room was empty.
type SessionCleanupMessage struct {
	ProjectId    string    `json:"projectId"`
	ConnectionId string    `json:"connectionId"`
	RoomEmpty    bool      `json:"roomEmpty"`
	FailedAt     time.Time `json:"failedAt"`
}

func EncodeSessionCleanup(msg SessionCleanupMessage) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeSessionCleanup(body string) (SessionCleanupMessage, error) {
	var msg SessionCleanupMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return SessionCleanupMessage{}, err
	}
	if msg.ProjectId == "" || msg.ConnectionId == "" {
		return SessionCleanupMessage{}, fmt.Errorf("cleanup message missing project or connection id")
	}
	return msg, nil
}
