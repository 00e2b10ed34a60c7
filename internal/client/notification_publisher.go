package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// NotificationPublisher publishes workflow events to NATS for consumption by
// the notification delivery service.
//
// Subject convention: notifications.proc.<event_type>
// Event types: request_submitted, approval_required, approval_recorded,
//              quote_conflict, conflict_resolved, request_approved,
//              request_rejected, revision_requested, request_ordered,
//              request_completed, override_created
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	RequestID  string         `json:"request_id"`
	ActorID    string         `json:"actor_id"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Note       string         `json:"note,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. nc may be nil, which disables publishing.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log.With().Str("client", "notifications").Logger()}
}

// PublishStatusChange publishes a committed status transition.
func (p *NotificationPublisher) PublishStatusChange(ctx context.Context, requestID string, from, to workflow.Status, actorID, note string) {
	p.publish(ctx, eventTypeFor(to), &NotificationEvent{
		EventType:  eventTypeFor(to),
		RequestID:  requestID,
		ActorID:    actorID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Note:       note,
	})
}

// PublishApprovalEvent publishes a coordinator outcome (approval recorded,
// quote conflict, conflict resolved) or an override creation.
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, requestID, actorID string, payload map[string]any) {
	p.publish(ctx, eventType, &NotificationEvent{
		EventType: eventType,
		RequestID: requestID,
		ActorID:   actorID,
		Payload:   payload,
	})
}

func (p *NotificationPublisher) publish(ctx context.Context, eventType string, event *NotificationEvent) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.proc.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", event.RequestID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", event.RequestID).
		Msg("notification: event published")
}

func eventTypeFor(to workflow.Status) string {
	switch to {
	case workflow.StatusSubmitted, workflow.StatusResubmitted:
		return "request_submitted"
	case workflow.StatusPendingApproval:
		return "approval_required"
	case workflow.StatusApproved:
		return "request_approved"
	case workflow.StatusRejected:
		return "request_rejected"
	case workflow.StatusRevisionRequired:
		return "revision_requested"
	case workflow.StatusOrdered:
		return "request_ordered"
	case workflow.StatusCompleted:
		return "request_completed"
	default:
		return "status_changed"
	}
}
