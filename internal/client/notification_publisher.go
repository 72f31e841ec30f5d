// Package client holds outbound integrations.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes claim lifecycle and auth events to NATS for
// consumption by the notification service, which turns them into emails and
// in-app alerts.
//
// Subject convention: notifications.expense.<event_type>
// Event types: claim_submitted, approval_required, claim_approved,
// claim_rejected, signup_otp, password_reset_otp
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt claim operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	ActorID      int64          `json:"actor_id,omitempty"`
	Recipients   []int64        `json:"recipients,omitempty"`
	Email        string         `json:"email,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   int64          `json:"resource_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. conn may be nil, which turns
// every publish into a no-op; the service stays fully functional without a
// broker.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishClaimEvent publishes a claim lifecycle event.
func (p *NotificationPublisher) PublishClaimEvent(ctx context.Context, eventType string, claimID, actorID int64, recipients []int64, payload map[string]any) {
	if len(recipients) == 0 {
		return
	}
	p.publish(eventType, &NotificationEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "claim",
		ResourceID:   claimID,
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	})
}

// PublishAuthEvent publishes an OTP delivery event keyed by email.
func (p *NotificationPublisher) PublishAuthEvent(ctx context.Context, eventType, email string, payload map[string]any) {
	p.publish(eventType, &NotificationEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Email:      email,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}

func (p *NotificationPublisher) publish(eventType string, event *NotificationEvent) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.expense.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("event_id", event.EventID).
		Msg("notification: event published")
}
