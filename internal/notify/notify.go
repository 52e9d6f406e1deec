package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Payload is a push notification destined for one offline or
// backgrounded recipient.
type Payload struct {
	Id          string `json:"id"`
	RecipientId int    `json:"recipient_id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ChatId      int    `json:"chat_id,omitempty"`
	MessageId   int    `json:"message_id,omitempty"`
}

// Publisher hands notifications to the push-dispatch pipeline.
// Delivery is best-effort: callers fire-and-forget and only log a
// returned error, never surface or retry it on the message path.
type Publisher interface {
	Publish(ctx context.Context, p Payload) error
	Close() error
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, p Payload) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NoopPublisher drops every notification; used when no broker is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Payload) error { return nil }
func (NoopPublisher) Close() error                           { return nil }
