package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type ValidationLogRepository struct {
	db *gorm.DB
}

func NewValidationLogRepository(db *gorm.DB) *ValidationLogRepository {
	return &ValidationLogRepository{db: db}
}

func (r *ValidationLogRepository) Append(ctx context.Context, entry domain.ValidationLog) error {
	if r.db == nil {
		return errDBUnavailable
	}
	hashes, err := json.Marshal(entry.DataElementsHash)
	if err != nil {
		return err
	}
	model := ValidationLogModel{
		ID:               entry.ID,
		RequestID:        entry.RequestID,
		DFID:             entry.DFID,
		DPID:             entry.DPID,
		DPE:              entry.DPE,
		DPM:              entry.DPM,
		Requester:        entry.Requester,
		ConsentStatus:    entry.ConsentStatus,
		DataElementsJSON: hashes,
		PurposeHash:      entry.PurposeHash,
		Timestamp:        entry.Timestamp.UTC(),
		InternalExternal: string(entry.InternalExternal),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, batch domain.BulkBatch) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := batchModelFromDomain(batch)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: batch %s", domain.ErrConflict, batch.BatchID)
		}
		return err
	}
	return nil
}

func (r *BatchRepository) Update(ctx context.Context, batch domain.BulkBatch) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := batchModelFromDomain(batch)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Model(&BulkBatchModel{}).
		Where("batch_id = ?", batch.BatchID).
		Updates(map[string]any{
			"status":          model.Status,
			"row_count":       model.RowCount,
			"processed":       model.Processed,
			"success":         model.Success,
			"failure":         model.Failure,
			"row_errors_json": model.RowErrorsJSON,
			"completed_at":    model.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batch.BatchID)
	}
	return nil
}

func (r *BatchRepository) Get(ctx context.Context, batchID string) (domain.BulkBatch, error) {
	if r.db == nil {
		return domain.BulkBatch{}, errDBUnavailable
	}
	var model BulkBatchModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Take(&model).Error; err != nil {
		return domain.BulkBatch{}, notFound(err, "batch "+batchID)
	}
	return batchFromModel(model)
}

func batchModelFromDomain(batch domain.BulkBatch) (BulkBatchModel, error) {
	var rowErrors []byte
	if len(batch.RowErrors) > 0 {
		var err error
		if rowErrors, err = json.Marshal(batch.RowErrors); err != nil {
			return BulkBatchModel{}, err
		}
	}
	return BulkBatchModel{
		BatchID:       batch.BatchID,
		DFID:          batch.DFID,
		FileKey:       batch.FileKey,
		Status:        string(batch.Status),
		RowCount:      batch.RowCount,
		Processed:     batch.Processed,
		Success:       batch.Success,
		Failure:       batch.Failure,
		RowErrorsJSON: rowErrors,
		CreatedAt:     batch.CreatedAt.UTC(),
		CompletedAt:   batch.CompletedAt,
	}, nil
}

func batchFromModel(model BulkBatchModel) (domain.BulkBatch, error) {
	batch := domain.BulkBatch{
		BatchID:     model.BatchID,
		DFID:        model.DFID,
		FileKey:     model.FileKey,
		Status:      domain.BatchStatus(model.Status),
		RowCount:    model.RowCount,
		Processed:   model.Processed,
		Success:     model.Success,
		Failure:     model.Failure,
		CreatedAt:   model.CreatedAt,
		CompletedAt: model.CompletedAt,
	}
	if len(model.RowErrorsJSON) > 0 {
		if err := json.Unmarshal(model.RowErrorsJSON, &batch.RowErrors); err != nil {
			return domain.BulkBatch{}, fmt.Errorf("decode batch %s: %w", model.BatchID, err)
		}
	}
	return batch, nil
}
