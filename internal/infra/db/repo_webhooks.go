package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub domain.WebhookSubscription) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := subscriptionModelFromDomain(sub)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s already subscribed at %s", domain.ErrDuplicateWebhook, sub.DFID, sub.URL)
		}
		return err
	}
	return nil
}

func (r *SubscriptionRepository) Get(ctx context.Context, webhookID string) (domain.WebhookSubscription, error) {
	if r.db == nil {
		return domain.WebhookSubscription{}, errDBUnavailable
	}
	var model WebhookSubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Take(&model).Error; err != nil {
		return domain.WebhookSubscription{}, notFound(err, "webhook "+webhookID)
	}
	return subscriptionFromModel(model)
}

func (r *SubscriptionRepository) ListByDF(ctx context.Context, dfID string) ([]domain.WebhookSubscription, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []WebhookSubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("df_id = ?", dfID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.WebhookSubscription, 0, len(models))
	for _, model := range models {
		sub, err := subscriptionFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, webhookID string, status domain.SubscriptionStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&WebhookSubscriptionModel{}).
		Where("webhook_id = ?", webhookID).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: webhook %s", domain.ErrNotFound, webhookID)
	}
	return nil
}

func subscriptionModelFromDomain(sub domain.WebhookSubscription) (WebhookSubscriptionModel, error) {
	events, err := json.Marshal(sub.SubscribedEvents)
	if err != nil {
		return WebhookSubscriptionModel{}, err
	}
	var auth []byte
	if sub.Auth != nil {
		if auth, err = json.Marshal(sub.Auth); err != nil {
			return WebhookSubscriptionModel{}, err
		}
	}
	return WebhookSubscriptionModel{
		WebhookID:        sub.WebhookID,
		DFID:             sub.DFID,
		DPRID:            sub.DPRID,
		URL:              sub.URL,
		Environment:      string(sub.Environment),
		Status:           string(sub.Status),
		SubscribedEvents: events,
		WebhookFor:       string(sub.WebhookFor),
		AuthJSON:         auth,
		CreatedAt:        sub.CreatedAt.UTC(),
	}, nil
}

func subscriptionFromModel(model WebhookSubscriptionModel) (domain.WebhookSubscription, error) {
	sub := domain.WebhookSubscription{
		WebhookID:   model.WebhookID,
		DFID:        model.DFID,
		DPRID:       model.DPRID,
		URL:         model.URL,
		Environment: domain.WebhookEnvironment(model.Environment),
		Status:      domain.SubscriptionStatus(model.Status),
		WebhookFor:  domain.WebhookFor(model.WebhookFor),
		CreatedAt:   model.CreatedAt,
	}
	if err := json.Unmarshal(model.SubscribedEvents, &sub.SubscribedEvents); err != nil {
		return domain.WebhookSubscription{}, fmt.Errorf("decode subscription %s: %w", model.WebhookID, err)
	}
	if len(model.AuthJSON) > 0 {
		sub.Auth = &domain.WebhookAuth{}
		if err := json.Unmarshal(model.AuthJSON, sub.Auth); err != nil {
			return domain.WebhookSubscription{}, fmt.Errorf("decode subscription auth %s: %w", model.WebhookID, err)
		}
	}
	return sub, nil
}

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, ev domain.WebhookEvent) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := webhookEventModelFromDomain(ev)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *WebhookEventRepository) Get(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	if r.db == nil {
		return domain.WebhookEvent{}, errDBUnavailable
	}
	var model WebhookEventModel
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Take(&model).Error; err != nil {
		return domain.WebhookEvent{}, notFound(err, "webhook event "+eventID)
	}
	return webhookEventFromModel(model)
}

func (r *WebhookEventRepository) Update(ctx context.Context, ev domain.WebhookEvent) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := webhookEventModelFromDomain(ev)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("event_id = ?", ev.EventID).
		Updates(map[string]any{
			"status":     model.Status,
			"retries":    model.Retries,
			"last_error": model.LastError,
			"updated_at": model.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: webhook event %s", domain.ErrNotFound, ev.EventID)
	}
	return nil
}

func webhookEventModelFromDomain(ev domain.WebhookEvent) (WebhookEventModel, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return WebhookEventModel{}, fmt.Errorf("encode webhook payload: %w", err)
	}
	return WebhookEventModel{
		EventID:     ev.EventID,
		WebhookID:   ev.WebhookID,
		DFID:        ev.DFID,
		DPID:        ev.DPID,
		PayloadJSON: payload,
		Status:      string(ev.Status),
		Retries:     ev.Retries,
		LastError:   ev.LastError,
		CreatedAt:   ev.CreatedAt.UTC(),
		UpdatedAt:   ev.UpdatedAt.UTC(),
	}, nil
}

func webhookEventFromModel(model WebhookEventModel) (domain.WebhookEvent, error) {
	ev := domain.WebhookEvent{
		EventID:   model.EventID,
		WebhookID: model.WebhookID,
		DFID:      model.DFID,
		DPID:      model.DPID,
		Status:    domain.WebhookEventStatus(model.Status),
		Retries:   model.Retries,
		LastError: model.LastError,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if err := json.Unmarshal(model.PayloadJSON, &ev.Payload); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("decode webhook event %s: %w", model.EventID, err)
	}
	return ev, nil
}
