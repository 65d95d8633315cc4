package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// ConsentVerifier matches requested (data element, purpose) hashes against
// the current artifact state of a data principal and writes one validation
// log per attempt.
type ConsentVerifier struct {
	Artifacts     ArtifactRepository
	Logs          ValidationLogRepository
	Notifications *NotificationProjector
	Now           func() time.Time
}

func (v *ConsentVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *ConsentVerifier) Verify(ctx context.Context, req domain.VerificationRequest, origin domain.VerificationOrigin) (domain.VerificationResult, error) {
	if req.DFID == "" {
		return domain.VerificationResult{}, fmt.Errorf("%w: df_id is required", domain.ErrValidation)
	}
	if req.PurposeHash == "" {
		return domain.VerificationResult{}, fmt.Errorf("%w: Either purpose_hash or purpose_id is required", domain.ErrValidation)
	}
	if len(req.DataElementsHash) == 0 {
		return domain.VerificationResult{}, fmt.Errorf("%w: data_elements_hash is required", domain.ErrValidation)
	}
	query := PrincipalQuery{DPID: req.DPID, DPSystemID: req.DPSystemID, DPE: req.DPE, DPM: req.DPM}
	if query.Empty() {
		return domain.VerificationResult{}, fmt.Errorf("%w: a data principal identifier is required", domain.ErrValidation)
	}

	artifacts, err := v.Artifacts.ListByPrincipal(ctx, req.DFID, query)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if len(artifacts) == 0 {
		return domain.VerificationResult{}, fmt.Errorf("%w: no consent artifacts for data principal", domain.ErrNotFound)
	}

	authoritative := authoritativeArtifact(artifacts)
	now := v.now()

	matched := map[string]bool{}
	for _, de := range authoritative.ConsentScope.DataElements {
		if !hashRequested(req.DataElementsHash, de.DataElementHashID) {
			continue
		}
		for _, c := range de.Consents {
			if c.PurposeHashID != req.PurposeHash {
				continue
			}
			if c.ConsentStatus != domain.ConsentApproved {
				continue
			}
			if !c.ConsentExpiryPeriod.After(now) {
				continue
			}
			matched[de.DataElementHashID] = true
		}
	}

	verified := true
	var matchedList []string
	for _, h := range req.DataElementsHash {
		if matched[h] {
			matchedList = append(matchedList, h)
		} else {
			verified = false
		}
	}

	result := domain.VerificationResult{
		RequestID:     req.RequestID,
		Verified:      verified,
		MatchedHashes: matchedList,
		AgreementID:   authoritative.AgreementID,
	}

	entry := domain.ValidationLog{
		ID:               uuid.NewString(),
		RequestID:        req.RequestID,
		DFID:             req.DFID,
		DPID:             authoritative.DataPrincipal.DPID,
		DPE:              req.DPE,
		DPM:              req.DPM,
		Requester:        req.Requester,
		ConsentStatus:    verified,
		DataElementsHash: req.DataElementsHash,
		PurposeHash:      req.PurposeHash,
		Timestamp:        now,
		InternalExternal: origin,
	}
	if err := v.Logs.Append(ctx, entry); err != nil {
		return domain.VerificationResult{}, fmt.Errorf("append validation log: %w", err)
	}

	if !verified && v.Notifications != nil {
		if err := v.Notifications.OnValidationFailed(ctx, authoritative, req); err != nil {
			return domain.VerificationResult{}, err
		}
	}
	return result, nil
}

// authoritativeArtifact picks the most recent artifact that no other
// artifact links to as its predecessor, i.e. the head of the chain.
func authoritativeArtifact(artifacts []domain.ConsentArtifact) domain.ConsentArtifact {
	linked := map[string]bool{}
	for _, a := range artifacts {
		if a.LinkedAgreementHash != "" {
			linked[a.LinkedAgreementHash] = true
		}
	}
	best := artifacts[0]
	for _, a := range artifacts[1:] {
		if linked[best.AgreementHashID] && !linked[a.AgreementHashID] {
			best = a
			continue
		}
		if linked[a.AgreementHashID] && !linked[best.AgreementHashID] {
			continue
		}
		if a.AgreementVersion > best.AgreementVersion {
			best = a
		}
	}
	return best
}

func hashRequested(requested []string, hash string) bool {
	for _, h := range requested {
		if h == hash {
			return true
		}
	}
	return false
}
