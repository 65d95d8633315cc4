package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

// WebhookQueueMessage is what the classifier hands to the delivery worker.
// Test deliveries carry no record id and never touch the event table.
type WebhookQueueMessage struct {
	ID        string              `json:"_id,omitempty"`
	WebhookID string              `json:"webhook_id"`
	Test      bool                `json:"test,omitempty"`
	Payload   domain.ConsentEvent `json:"payload"`
}

// Classifier consumes raw consent events, normalizes and classifies them,
// and fans classified copies out to subscribed webhooks. DPR-scoped
// subscriptions get payloads pruned down to the scope their processor
// actually appears in.
type Classifier struct {
	Subscriptions SubscriptionRepository
	Events        WebhookEventRepository
	Publisher     Publisher
	Now           func() time.Time
}

func (c *Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Classifier) Process(ctx context.Context, raw domain.ConsentEvent) error {
	if raw.DFID == "" {
		return fmt.Errorf("%w: df_id required", domain.ErrValidation)
	}

	// Processor ids are collected before normalization strips anything.
	dprIDs := map[string]bool{}
	for _, id := range raw.ProcessorIDs() {
		dprIDs[id] = true
	}

	event := raw.Normalize()
	event.Classification = domain.Classify(raw.EventType)
	ts := c.now()
	event.ClassificationTimestamp = &ts

	subs, err := c.Subscriptions.ListByDF(ctx, raw.DFID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.Status != domain.SubscriptionActive {
			continue
		}
		if !subscribedTo(sub, raw.EventType) {
			continue
		}
		switch sub.WebhookFor {
		case domain.WebhookForDPR:
			if sub.DPRID == "" || !dprIDs[sub.DPRID] {
				continue
			}
			pruned, ok := pruneForProcessor(event, sub.DPRID)
			if !ok {
				continue
			}
			if err := c.publishWebhookEvent(ctx, sub, pruned); err != nil {
				return err
			}
		default:
			if err := c.publishWebhookEvent(ctx, sub, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// subscribedTo is case-insensitive: subscriptions commonly carry event
// names in upper case.
func subscribedTo(sub domain.WebhookSubscription, et domain.EventType) bool {
	for _, e := range sub.SubscribedEvents {
		if strings.EqualFold(string(e), string(et)) {
			return true
		}
	}
	return false
}

// pruneForProcessor retains only the purposes and data elements whose
// processors include dprID. An empty surviving scope drops the delivery.
func pruneForProcessor(event domain.ConsentEvent, dprID string) (domain.ConsentEvent, bool) {
	out := event
	out.DataProcessorID = dprID

	hadScope := len(event.Purposes) > 0 || len(event.DataElements) > 0

	out.Purposes = nil
	for _, p := range event.Purposes {
		if processorListed(p.DataProcessors, dprID) {
			out.Purposes = append(out.Purposes, p)
		}
	}

	out.DataElements = nil
	for _, de := range event.DataElements {
		kept := de
		kept.Purposes = nil
		for _, p := range de.Purposes {
			if processorListed(p.DataProcessors, dprID) {
				kept.Purposes = append(kept.Purposes, p)
			}
		}
		if len(kept.Purposes) > 0 {
			out.DataElements = append(out.DataElements, kept)
		}
	}

	if hadScope && len(out.Purposes) == 0 && len(out.DataElements) == 0 {
		return domain.ConsentEvent{}, false
	}
	return out, true
}

func processorListed(dps []domain.DataProcessor, dprID string) bool {
	for _, dp := range dps {
		if dp.DataProcessorID == dprID {
			return true
		}
	}
	return false
}

// publishWebhookEvent creates the delivery record and enqueues the message
// for the delivery worker.
func (c *Classifier) publishWebhookEvent(ctx context.Context, sub domain.WebhookSubscription, payload domain.ConsentEvent) error {
	now := c.now()
	ev := domain.WebhookEvent{
		EventID:   uuid.NewString(),
		WebhookID: sub.WebhookID,
		DFID:      sub.DFID,
		DPID:      payload.DPID,
		Payload:   payload,
		Status:    domain.WebhookEventPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Events.Create(ctx, ev); err != nil {
		return fmt.Errorf("create webhook event: %w", err)
	}
	msg := WebhookQueueMessage{ID: ev.EventID, WebhookID: sub.WebhookID, Payload: payload}
	if err := c.Publisher.Publish(ctx, broker.WebhookExchange, broker.WebhookMainKey, msg); err != nil {
		// The record stays pending; the operator can replay it.
		log.Printf("classifier: enqueue webhook event %s failed: %v", ev.EventID, err)
		return fmt.Errorf("enqueue webhook event: %w", err)
	}
	return nil
}
