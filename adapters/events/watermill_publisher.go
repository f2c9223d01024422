package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/eauth/ports"
)

const (
	// LoginTopic receives an event after every successful signature verification
	LoginTopic = "eauth.login"

	// LogoutTopic receives an event after every destroyed session
	LogoutTopic = "eauth.logout"
)

// SessionEvent represents a login or logout event
type SessionEvent struct {
	Address   string `json:"address,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	SessionID string `json:"session_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
	}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address string, userID int64, sessionID string) error {
	return p.publish(ctx, LoginTopic, SessionEvent{
		Address:   address,
		UserID:    userID,
		SessionID: sessionID,
	})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, sessionID string) error {
	return p.publish(ctx, LogoutTopic, SessionEvent{
		Address:   address,
		SessionID: sessionID,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher discards every event. It stands in for a broker where events
// are not consumed, as in handler tests and the client library's tests.
type NopPublisher struct{}

var _ ports.EventPublisher = NopPublisher{}

// PublishLogin discards the login event
func (NopPublisher) PublishLogin(context.Context, string, int64, string) error { return nil }

// PublishLogout discards the logout event
func (NopPublisher) PublishLogout(context.Context, string, string) error { return nil }
