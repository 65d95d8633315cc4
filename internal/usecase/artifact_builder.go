package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/canonical"
	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

const (
	artifactHashSize = 32
	headerHashSize   = 64
)

type SelectedPair struct {
	DataElementID string `json:"data_element_id"`
	PurposeID     string `json:"purpose_id"`
}

// NoticeSubmission is what the data principal actually submitted against a
// collection point's notice.
type NoticeSubmission struct {
	DFID           string
	CPID           string
	DPID           string
	DPSystemID     string
	Residency      string
	Email          string
	Mobile         string
	IP             string
	RequestHeaders map[string]string
	Selected       []SelectedPair
	Verified       bool
}

// ArtifactBuilder constructs a consent artifact draft from a notice
// submission and the collection point's declared scope.
type ArtifactBuilder struct {
	CollectionPoints CollectionPointRepository
	Artifacts        ArtifactRepository
	Now              func() time.Time
}

func (b *ArtifactBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Build assembles the artifact, computes its canonical hash and links it
// into the per-(dp, cp) chain. The caller persists the result.
func (b *ArtifactBuilder) Build(ctx context.Context, sub NoticeSubmission) (domain.ConsentArtifact, error) {
	cp, err := b.CollectionPoints.Get(ctx, sub.CPID)
	if err != nil {
		return domain.ConsentArtifact{}, fmt.Errorf("load collection point %s: %w", sub.CPID, err)
	}

	now := b.now()
	selected := map[SelectedPair]bool{}
	for _, pair := range sub.Selected {
		selected[pair] = true
	}

	var scope domain.ConsentScope
	for _, de := range cp.DataElements {
		retention := now.AddDate(0, 0, de.RetentionDays)
		dec := domain.DataElementConsent{
			DataElementID:     de.DataElementID,
			DataElementHashID: canonical.Shake256Hex([]byte(de.DataElementID), artifactHashSize),
			DataElementName:   de.Name,
			RetentionPeriod:   retention,
		}
		for _, pu := range de.Purposes {
			// An approved consent must carry a future-dated expiry, so a
			// declared purpose without a validity period is misconfigured.
			if pu.ConsentTimePeriodDays <= 0 {
				return domain.ConsentArtifact{}, fmt.Errorf("%w: purpose %s has no consent validity period", domain.ErrValidation, pu.PurposeID)
			}
			status := domain.ConsentDenied
			if selected[SelectedPair{DataElementID: de.DataElementID, PurposeID: pu.PurposeID}] {
				status = domain.ConsentApproved
			}
			processors := pu.DataProcessors
			if processors == nil {
				processors = []domain.DataProcessor{}
			}
			dec.Consents = append(dec.Consents, domain.Consent{
				PurposeID:           pu.PurposeID,
				PurposeHashID:       canonical.Shake256Hex([]byte(pu.PurposeID), artifactHashSize),
				PurposeName:         pu.Name,
				ConsentStatus:       status,
				ConsentTimestamp:    now,
				ConsentExpiryPeriod: now.AddDate(0, 0, pu.ConsentTimePeriodDays),
				RetentionTimestamp:  retention,
				DataProcessors:      processors,
				MandatoryLegal:      pu.MandatoryLegal,
				MandatoryService:    pu.MandatoryService,
			})
		}
		scope.DataElements = append(scope.DataElements, dec)
	}

	headerHash, err := canonical.HashJSON(sub.RequestHeaders, headerHashSize)
	if err != nil {
		return domain.ConsentArtifact{}, fmt.Errorf("hash request headers: %w", err)
	}

	artifact := domain.ConsentArtifact{
		AgreementID: uuid.NewString(),
		CPID:        cp.CPID,
		CPName:      cp.CPName,
		Metadata: domain.ArtifactMetadata{
			IP:                sub.IP,
			RequestHeaderHash: headerHash,
		},
		DataPrincipal: domain.DataPrincipal{
			DPID:       sub.DPID,
			DPSystemID: sub.DPSystemID,
			Residency:  sub.Residency,
			Verified:   sub.Verified,
		},
		DataFiduciary: domain.DataFiduciary{
			DFID:          sub.DFID,
			AgreementDate: now,
		},
		ConsentScope: scope,
		State:        domain.ArtifactPending,
		CreatedAt:    now,
	}
	if sub.Email != "" {
		artifact.DataPrincipal.DPE = canonical.HashIdentifier(sub.Email)
	}
	if sub.Mobile != "" {
		artifact.DataPrincipal.DPM = canonical.HashIdentifier(sub.Mobile)
	}

	if err := b.linkChain(ctx, &artifact); err != nil {
		return domain.ConsentArtifact{}, err
	}
	if err := stampHash(&artifact); err != nil {
		return domain.ConsentArtifact{}, err
	}
	return artifact, nil
}

// linkChain finds the latest artifact for the same (dp, cp) pair and, if
// present, records its hash as the link and takes the next version.
func (b *ArtifactBuilder) linkChain(ctx context.Context, artifact *domain.ConsentArtifact) error {
	prev, err := b.Artifacts.LatestByPair(ctx, artifact.DataPrincipal.DPID, artifact.CPID)
	switch {
	case err == nil:
		artifact.LinkedAgreementHash = prev.AgreementHashID
		artifact.AgreementVersion = prev.AgreementVersion + 1
	case isNotFound(err):
		artifact.AgreementVersion = 1
	default:
		return fmt.Errorf("load previous artifact: %w", err)
	}
	return nil
}

func stampHash(artifact *domain.ConsentArtifact) error {
	hash, err := canonical.HashJSON(artifact.Body(), artifactHashSize)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	artifact.AgreementHashID = hash
	return nil
}
