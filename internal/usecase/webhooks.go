package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

// WebhookManager handles subscription CRUD. Activation is gated on a live
// test delivery: the endpoint must answer a signed test POST with
// {"status":"ok"} before it receives real traffic.
type WebhookManager struct {
	Subscriptions SubscriptionRepository
	Publisher     Publisher
	TestTimeout   time.Duration
	Now           func() time.Time
}

func (m *WebhookManager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *WebhookManager) testTimeout() time.Duration {
	if m.TestTimeout > 0 {
		return m.TestTimeout
	}
	return 15 * time.Second
}

// Register creates an inactive subscription. The (df_id, url) pair is
// unique; duplicates surface as ErrDuplicateWebhook from the repository.
func (m *WebhookManager) Register(ctx context.Context, sub domain.WebhookSubscription) (domain.WebhookSubscription, error) {
	if sub.DFID == "" {
		return domain.WebhookSubscription{}, fmt.Errorf("%w: df_id is required", domain.ErrValidation)
	}
	if err := validateEndpoint(sub.URL); err != nil {
		return domain.WebhookSubscription{}, err
	}
	if len(sub.SubscribedEvents) == 0 {
		return domain.WebhookSubscription{}, fmt.Errorf("%w: at least one subscribed event is required", domain.ErrValidation)
	}
	if sub.WebhookFor == domain.WebhookForDPR && sub.DPRID == "" {
		return domain.WebhookSubscription{}, fmt.Errorf("%w: dpr_id is required for processor webhooks", domain.ErrValidation)
	}
	if sub.WebhookFor == "" {
		sub.WebhookFor = domain.WebhookForDF
	}
	if sub.Environment == "" {
		sub.Environment = domain.WebhookTesting
	}
	if sub.Auth == nil {
		sub.Auth = &domain.WebhookAuth{Type: domain.WebhookAuthNone}
	}
	if sub.Auth.Type == domain.WebhookAuthHeader && (sub.Auth.Key == "" || sub.Auth.Secret == "") {
		return domain.WebhookSubscription{}, fmt.Errorf("%w: header auth requires key and secret", domain.ErrValidation)
	}

	sub.WebhookID = uuid.NewString()
	sub.Status = domain.SubscriptionInactive
	sub.CreatedAt = m.now()
	if err := m.Subscriptions.Create(ctx, sub); err != nil {
		return domain.WebhookSubscription{}, err
	}
	return sub, nil
}

// Activate runs a test delivery through the real webhook pipeline and flips
// the subscription to active only when the endpoint acknowledged it.
func (m *WebhookManager) Activate(ctx context.Context, webhookID string) error {
	sub, err := m.Subscriptions.Get(ctx, webhookID)
	if err != nil {
		return err
	}
	if sub.Status == domain.SubscriptionActive {
		return nil
	}
	if err := m.TestDelivery(ctx, sub); err != nil {
		return err
	}
	return m.Subscriptions.UpdateStatus(ctx, webhookID, domain.SubscriptionActive)
}

// Deactivate stops fan-out to the subscription. In-flight deliveries drain
// normally.
func (m *WebhookManager) Deactivate(ctx context.Context, webhookID string) error {
	if _, err := m.Subscriptions.Get(ctx, webhookID); err != nil {
		return err
	}
	return m.Subscriptions.UpdateStatus(ctx, webhookID, domain.SubscriptionInactive)
}

func (m *WebhookManager) List(ctx context.Context, dfID string) ([]domain.WebhookSubscription, error) {
	if dfID == "" {
		return nil, fmt.Errorf("%w: df_id is required", domain.ErrValidation)
	}
	return m.Subscriptions.ListByDF(ctx, dfID)
}

// TestDelivery sends a synthetic event through the webhook main queue and
// blocks on the worker's reply. The test message never creates a delivery
// record and never retries.
func (m *WebhookManager) TestDelivery(ctx context.Context, sub domain.WebhookSubscription) error {
	msg := WebhookQueueMessage{
		WebhookID: sub.WebhookID,
		Test:      true,
		Payload: domain.ConsentEvent{
			EventType: domain.EventConsentGranted,
			DFID:      sub.DFID,
			DPID:      "test-principal",
		},
	}
	raw, err := m.Publisher.PublishAndWait(ctx, broker.WebhookExchange, broker.WebhookMainKey, msg, m.testTimeout())
	if err != nil {
		return fmt.Errorf("%w: test delivery did not complete: %v", domain.ErrTransient, err)
	}
	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("%w: unreadable test reply", domain.ErrTransient)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("%w: endpoint rejected test delivery: %s", domain.ErrValidation, reply.Message)
	}
	return nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: url is not a valid endpoint", domain.ErrValidation)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must be http or https", domain.ErrValidation)
	}
	return nil
}
