package domain

import "time"

type WebhookEnvironment string

const (
	WebhookTesting    WebhookEnvironment = "testing"
	WebhookProduction WebhookEnvironment = "production"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

type WebhookFor string

const (
	WebhookForDF  WebhookFor = "df"
	WebhookForDPR WebhookFor = "dpr"
)

type WebhookAuthType string

const (
	WebhookAuthNone   WebhookAuthType = "none"
	WebhookAuthHeader WebhookAuthType = "header"
)

// WebhookAuth is a tagged variant: none, or header with an HMAC secret
// surfaced under the configured header key.
type WebhookAuth struct {
	Type   WebhookAuthType `json:"type"`
	Key    string          `json:"key,omitempty"`
	Secret string          `json:"secret,omitempty"`
}

type WebhookSubscription struct {
	WebhookID        string             `json:"webhook_id"`
	DFID             string             `json:"df_id"`
	DPRID            string             `json:"dpr_id,omitempty"`
	URL              string             `json:"url"`
	Environment      WebhookEnvironment `json:"environment"`
	Status           SubscriptionStatus `json:"status"`
	SubscribedEvents []EventType        `json:"subscribed_events"`
	WebhookFor       WebhookFor         `json:"webhook_for"`
	Auth             *WebhookAuth       `json:"auth,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func (s WebhookSubscription) SubscribedTo(et EventType) bool {
	for _, e := range s.SubscribedEvents {
		if e == et {
			return true
		}
	}
	return false
}

type WebhookEventStatus string

const (
	WebhookEventPending    WebhookEventStatus = "pending"
	WebhookEventSent       WebhookEventStatus = "sent"
	WebhookEventFailed     WebhookEventStatus = "failed"
	WebhookEventDLQPending WebhookEventStatus = "dlq_pending"
	WebhookEventDLQ        WebhookEventStatus = "dlq"
)

// WebhookEvent is one delivery attempt record for a subscription.
type WebhookEvent struct {
	EventID   string             `json:"event_id"`
	WebhookID string             `json:"webhook_id"`
	DFID      string             `json:"df_id"`
	DPID      string             `json:"dp_id,omitempty"`
	Payload   ConsentEvent       `json:"payload"`
	Status    WebhookEventStatus `json:"status"`
	Retries   int                `json:"retries"`
	LastError string             `json:"last_error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}
