package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) LatestRecord(ctx context.Context, dpID, dfID string) (domain.AuditRecord, error) {
	if r.db == nil {
		return domain.AuditRecord{}, errDBUnavailable
	}
	var model AuditRecordModel
	if err := r.db.WithContext(ctx).
		Where("dp_id = ? AND df_id = ?", dpID, dfID).
		Order("created_at DESC").
		Take(&model).Error; err != nil {
		return domain.AuditRecord{}, notFound(err, "audit chain head")
	}
	return auditFromModel(model)
}

func (r *AuditRepository) Append(ctx context.Context, rec domain.AuditRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode audit data: %w", err)
	}
	model := AuditRecordModel{
		ID:              rec.ID,
		DPID:            rec.DPID,
		DFID:            rec.DFID,
		Timestamp:       rec.Timestamp,
		DataJSON:        data,
		DataHash:        rec.DataHash,
		PrevRecordHash:  rec.PrevRecordHash,
		RecordHash:      rec.RecordHash,
		Signature:       rec.Signature,
		SignedWithKeyID: rec.SignedWithKeyID,
		CreatedAt:       rec.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: audit record hash already present", domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, dpID, dfID string) ([]domain.AuditRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditRecordModel
	if err := r.db.WithContext(ctx).
		Where("dp_id = ? AND df_id = ?", dpID, dfID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditRecord, 0, len(models))
	for _, model := range models {
		rec, err := auditFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func auditFromModel(model AuditRecordModel) (domain.AuditRecord, error) {
	var data map[string]any
	if err := json.Unmarshal(model.DataJSON, &data); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("decode audit record %s: %w", model.ID, err)
	}
	return domain.AuditRecord{
		ID:              model.ID,
		DPID:            model.DPID,
		DFID:            model.DFID,
		Timestamp:       model.Timestamp,
		Data:            data,
		DataHash:        model.DataHash,
		PrevRecordHash:  model.PrevRecordHash,
		RecordHash:      model.RecordHash,
		Signature:       model.Signature,
		SignedWithKeyID: model.SignedWithKeyID,
		CreatedAt:       model.CreatedAt,
	}, nil
}
