package mq

import (
	"context"
	"encoding/json"
	"time"
)

// AuthEventsChannel is the channel auth events are published on.
const AuthEventsChannel = "auth.events"

// Auth event types consumed by downstream platform services.
const (
	EventUserRegistered = "user.registered"
	EventUserLogin      = "user.login"
	EventUserSSOLogin   = "user.sso_login"
)

// AuthEvent is the JSON payload published for each authentication event.
type AuthEvent struct {
	Event      string    `json:"event"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Backend defines the broker-agnostic publish operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher wraps a backend with a stable API. A nil Publisher is valid
// and drops all events, so callers never need to gate on configuration.
type Publisher struct {
	backend Backend
}

// NewPublisher constructs a Publisher for the provided backend.
func NewPublisher(backend Backend) *Publisher {
	return &Publisher{backend: backend}
}

// PublishAuthEvent emits an auth event for the given user.
func (p *Publisher) PublishAuthEvent(ctx context.Context, event, userID string) error {
	if p == nil || p.backend == nil {
		return nil
	}
	payload := AuthEvent{
		Event:      event,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = p.backend.Publish(ctx, AuthEventsChannel, data, map[string]string{"event": event})
	return err
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	if p == nil || p.backend == nil {
		return nil
	}
	return p.backend.Close()
}
