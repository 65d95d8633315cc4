package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// Collection points are administered by an external console; this repository
// only reads them.
type CollectionPointRepository struct {
	db *gorm.DB
}

func NewCollectionPointRepository(db *gorm.DB) *CollectionPointRepository {
	return &CollectionPointRepository{db: db}
}

func (r *CollectionPointRepository) Get(ctx context.Context, cpID string) (domain.CollectionPoint, error) {
	if r.db == nil {
		return domain.CollectionPoint{}, errDBUnavailable
	}
	var model CollectionPointModel
	if err := r.db.WithContext(ctx).
		Where("cp_id = ?", cpID).
		Take(&model).Error; err != nil {
		return domain.CollectionPoint{}, notFound(err, "collection point "+cpID)
	}
	cp := domain.CollectionPoint{
		CPID:   model.CPID,
		CPName: model.CPName,
		DFID:   model.DFID,
	}
	if err := json.Unmarshal(model.DataElementsJSON, &cp.DataElements); err != nil {
		return domain.CollectionPoint{}, fmt.Errorf("decode collection point %s: %w", model.CPID, err)
	}
	return cp, nil
}
