package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateIfAbsent inserts the notification unless its dedup key is taken.
// ON CONFLICT DO NOTHING keeps replays write-once without a read round trip.
func (r *NotificationRepository) CreateIfAbsent(ctx context.Context, n domain.Notification) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	model := NotificationModel{
		ID:            n.ID,
		DPID:          n.DPID,
		DFID:          n.DFID,
		Type:          string(n.Type),
		Title:         n.Title,
		Message:       n.Message,
		ArtifactID:    n.ArtifactID,
		DataElementID: n.DataElementID,
		PurposeID:     n.PurposeID,
		DedupKey:      n.DedupKey,
		CreatedAt:     n.CreatedAt.UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(ctx context.Context, s domain.RenewalSchedule) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := RenewalScheduleModel{
		ID:                s.ID,
		EventType:         string(s.EventType),
		ConsentArtifactID: s.ConsentArtifactID,
		DataElementID:     s.DataElementID,
		PurposeID:         s.PurposeID,
		ExpiryAt:          s.ExpiryAt.UTC(),
		NotificationSent:  s.NotificationSent,
		CreatedAt:         s.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ScheduleRepository) MarkNotified(ctx context.Context, id string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&RenewalScheduleModel{}).
		Where("consent_artifact_id = ? AND notification_sent = ?", id, false).
		Update("notification_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: schedule for artifact %s", domain.ErrNotFound, id)
	}
	return nil
}
