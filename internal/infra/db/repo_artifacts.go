package db

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create persists a pending artifact. The unique (dp_id, cp_id, version)
// index is the optimistic-concurrency guard; a collision surfaces as
// ErrVersionConflict and the builder retries with a fresh version.
func (r *ArtifactRepository) Create(ctx context.Context, artifact domain.ConsentArtifact) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := artifactModelFromDomain(artifact)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: artifact version %d for dp %s cp %s",
				domain.ErrVersionConflict, artifact.AgreementVersion, artifact.DataPrincipal.DPID, artifact.CPID)
		}
		return err
	}
	return nil
}

func (r *ArtifactRepository) Promote(ctx context.Context, agreementID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ConsentArtifactModel{}).
		Where("agreement_id = ?", agreementID).
		Update("state", string(domain.ArtifactPublished))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: artifact %s", domain.ErrNotFound, agreementID)
	}
	return nil
}

func (r *ArtifactRepository) GetByID(ctx context.Context, agreementID string) (domain.ConsentArtifact, error) {
	if r.db == nil {
		return domain.ConsentArtifact{}, errDBUnavailable
	}
	var model ConsentArtifactModel
	if err := r.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Take(&model).Error; err != nil {
		return domain.ConsentArtifact{}, notFound(err, "artifact "+agreementID)
	}
	return artifactFromModel(model)
}

func (r *ArtifactRepository) LatestByPair(ctx context.Context, dpID, cpID string) (domain.ConsentArtifact, error) {
	if r.db == nil {
		return domain.ConsentArtifact{}, errDBUnavailable
	}
	var model ConsentArtifactModel
	if err := r.db.WithContext(ctx).
		Where("dp_id = ? AND cp_id = ?", dpID, cpID).
		Order("agreement_version DESC").
		Take(&model).Error; err != nil {
		return domain.ConsentArtifact{}, notFound(err, "artifact for dp "+dpID)
	}
	return artifactFromModel(model)
}

func (r *ArtifactRepository) ListByPrincipal(ctx context.Context, dfID string, q usecase.PrincipalQuery) ([]domain.ConsentArtifact, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	tx := r.db.WithContext(ctx).Where("df_id = ?", dfID)
	switch {
	case q.DPID != "":
		tx = tx.Where("dp_id = ?", q.DPID)
	case q.DPSystemID != "":
		tx = tx.Where("dp_system_id = ?", q.DPSystemID)
	case q.DPE != "":
		tx = tx.Where("dp_e = ?", q.DPE)
	case q.DPM != "":
		tx = tx.Where("dp_m = ?", q.DPM)
	default:
		return nil, fmt.Errorf("%w: empty principal query", domain.ErrValidation)
	}

	var models []ConsentArtifactModel
	if err := tx.Where("state = ?", string(domain.ArtifactPublished)).
		Order("agreement_version ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ConsentArtifact, 0, len(models))
	for _, model := range models {
		artifact, err := artifactFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, nil
}

func artifactModelFromDomain(artifact domain.ConsentArtifact) (ConsentArtifactModel, error) {
	body, err := json.Marshal(artifact)
	if err != nil {
		return ConsentArtifactModel{}, fmt.Errorf("encode artifact: %w", err)
	}
	return ConsentArtifactModel{
		AgreementID:      artifact.AgreementID,
		AgreementHashID:  artifact.AgreementHashID,
		AgreementVersion: artifact.AgreementVersion,
		DPID:             artifact.DataPrincipal.DPID,
		DPSystemID:       artifact.DataPrincipal.DPSystemID,
		DPE:              artifact.DataPrincipal.DPE,
		DPM:              artifact.DataPrincipal.DPM,
		CPID:             artifact.CPID,
		DFID:             artifact.DataFiduciary.DFID,
		State:            string(artifact.State),
		BodyJSON:         body,
		CreatedAt:        artifact.CreatedAt.UTC(),
	}, nil
}

func artifactFromModel(model ConsentArtifactModel) (domain.ConsentArtifact, error) {
	var artifact domain.ConsentArtifact
	if err := json.Unmarshal(model.BodyJSON, &artifact); err != nil {
		return domain.ConsentArtifact{}, fmt.Errorf("decode artifact %s: %w", model.AgreementID, err)
	}
	artifact.State = domain.ArtifactState(model.State)
	artifact.CreatedAt = model.CreatedAt
	return artifact, nil
}
