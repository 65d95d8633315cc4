package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/canonical"
	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
)

// DeliveryDecision tells the consumer loop what to do with the broker
// message. The ack/nack itself stays with the caller so it is always the
// last action on the message.
type DeliveryDecision int

const (
	// DecisionAck acknowledges the message: delivered, dead-lettered to
	// the DLQ, or dropped as malformed.
	DecisionAck DeliveryDecision = iota
	// DecisionRetry nacks without requeue so the broker routes the message
	// through the retry queue's TTL and back.
	DecisionRetry
)

// deliveryResult is the outcome of one HTTP attempt.
type deliveryResult struct {
	sent      bool
	transient error
	fatal     error
}

// WebhookDeliverer delivers one webhook queue message: sign, POST, record,
// and decide between ack, retry and DLQ.
type WebhookDeliverer struct {
	Subscriptions SubscriptionRepository
	Events        WebhookEventRepository
	Publisher     Publisher
	Client        *http.Client
	MaxRetries    int
	Now           func() time.Time
}

func (w *WebhookDeliverer) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *WebhookDeliverer) maxRetries() int {
	if w.MaxRetries <= 0 {
		return 3
	}
	return w.MaxRetries
}

func (w *WebhookDeliverer) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

type webhookTestReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Handle processes one message from the webhook main queue. attempt is the
// message's x-death count; replyTo/correlationID are set on test messages.
func (w *WebhookDeliverer) Handle(ctx context.Context, msg WebhookQueueMessage, attempt int, replyTo, correlationID string) DeliveryDecision {
	if msg.ID == "" && !msg.Test {
		w.deadLetter(ctx, msg, "missing event id")
		return DecisionAck
	}

	sub, err := w.Subscriptions.Get(ctx, msg.WebhookID)
	if err != nil {
		reason := fmt.Sprintf("subscription %s unavailable: %v", msg.WebhookID, err)
		w.replyIfTest(ctx, replyTo, correlationID, webhookTestReply{Status: "failed", Message: reason, EventID: msg.ID})
		w.deadLetter(ctx, msg, reason)
		return DecisionAck
	}

	result := w.attempt(ctx, sub, msg.Payload)
	switch {
	case result.sent:
		w.replyIfTest(ctx, replyTo, correlationID, webhookTestReply{Status: "ok", EventID: msg.ID})
		if !msg.Test {
			w.updateEvent(ctx, msg.ID, func(ev *domain.WebhookEvent) {
				ev.Status = domain.WebhookEventSent
				ev.Retries = attempt
				ev.LastError = ""
			})
		}
		return DecisionAck

	case result.fatal != nil:
		reason := result.fatal.Error()
		w.replyIfTest(ctx, replyTo, correlationID, webhookTestReply{Status: "failed", Message: reason, EventID: msg.ID})
		if msg.Test {
			return DecisionAck
		}
		w.updateEvent(ctx, msg.ID, func(ev *domain.WebhookEvent) {
			ev.Status = domain.WebhookEventDLQPending
			ev.Retries = attempt
			ev.LastError = reason
		})
		w.deadLetter(ctx, msg, reason)
		return DecisionAck

	default:
		reason := result.transient.Error()
		if msg.Test {
			w.replyIfTest(ctx, replyTo, correlationID, webhookTestReply{Status: "failed", Message: reason, EventID: msg.ID})
			return DecisionAck
		}
		if attempt >= w.maxRetries() {
			w.updateEvent(ctx, msg.ID, func(ev *domain.WebhookEvent) {
				ev.Status = domain.WebhookEventDLQPending
				ev.Retries = attempt
				ev.LastError = reason
			})
			w.deadLetter(ctx, msg, reason)
			return DecisionAck
		}
		w.updateEvent(ctx, msg.ID, func(ev *domain.WebhookEvent) {
			ev.Status = domain.WebhookEventFailed
			ev.Retries = attempt
			ev.LastError = reason
		})
		return DecisionRetry
	}
}

// attempt performs the signed POST. Success requires HTTP 2xx and a body of
// {"status":"ok"}.
func (w *WebhookDeliverer) attempt(ctx context.Context, sub domain.WebhookSubscription, payload domain.ConsentEvent) deliveryResult {
	body, err := canonical.JSON(payload)
	if err != nil {
		return deliveryResult{fatal: fmt.Errorf("canonicalize payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryResult{fatal: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	if sub.Auth != nil && sub.Auth.Type == domain.WebhookAuthHeader {
		signature, err := cryptoinfra.SignPayload(sub.Auth.Secret, payload)
		if err != nil {
			return deliveryResult{fatal: fmt.Errorf("sign payload: %w", err)}
		}
		req.Header.Set(sub.Auth.Key, signature)
	}

	resp, err := w.client().Do(req)
	if err != nil {
		return deliveryResult{transient: fmt.Errorf("post %s: %w", sub.URL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return deliveryResult{transient: fmt.Errorf("post %s: status %d", sub.URL, resp.StatusCode)}
	}

	var ack struct {
		Status string `json:"status"`
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return deliveryResult{transient: fmt.Errorf("read response: %w", err)}
	}
	if err := json.Unmarshal(respBody, &ack); err != nil || ack.Status != "ok" {
		return deliveryResult{transient: errors.New("receiver did not acknowledge with status ok")}
	}
	return deliveryResult{sent: true}
}

// deadLetter copies the message to the webhook DLQ. The caller acks the
// main-queue message regardless of the DLQ write outcome: a stuck consumer
// is worse than a lost DLQ copy, so a failure here is only logged.
func (w *WebhookDeliverer) deadLetter(ctx context.Context, msg WebhookQueueMessage, reason string) {
	if msg.Test {
		return
	}
	entry := struct {
		WebhookQueueMessage
		Error string `json:"error"`
	}{WebhookQueueMessage: msg, Error: reason}
	if err := w.Publisher.Publish(ctx, broker.DLQExchange, broker.WebhookDLQKey, entry); err != nil {
		log.Printf("webhook: DLQ write FAILED for event %s (reason %q): %v", msg.ID, reason, err)
	}
}

func (w *WebhookDeliverer) replyIfTest(ctx context.Context, replyTo, correlationID string, reply webhookTestReply) {
	if replyTo == "" {
		return
	}
	if err := w.Publisher.Reply(ctx, replyTo, correlationID, reply); err != nil {
		log.Printf("webhook: test reply failed: %v", err)
	}
}

func (w *WebhookDeliverer) updateEvent(ctx context.Context, eventID string, mutate func(*domain.WebhookEvent)) {
	ev, err := w.Events.Get(ctx, eventID)
	if err != nil {
		log.Printf("webhook: load event %s: %v", eventID, err)
		return
	}
	mutate(&ev)
	ev.UpdatedAt = w.now()
	if err := w.Events.Update(ctx, ev); err != nil {
		log.Printf("webhook: update event %s: %v", eventID, err)
	}
}
