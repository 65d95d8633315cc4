package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

// PromoteArtifact handles otp_verification messages from the processing
// queue: the pending artifact becomes published, the audit chain gets a
// record, expiries are scheduled, and the classified lifecycle event enters
// the consent-events queue.
//
// The lifecycle event is published only after the artifact write commits,
// which is what gives downstream consumers the published-before-classified
// ordering per (dp, cp).
type PromoteArtifact struct {
	Artifacts ArtifactRepository
	Audit     *AuditLog
	Scheduler *ExpiryScheduler
	Publisher Publisher
	Now       func() time.Time
}

func (p *PromoteArtifact) Execute(ctx context.Context, agreementID string) error {
	if agreementID == "" {
		return fmt.Errorf("%w: consent_artifact_id required", domain.ErrValidation)
	}
	artifact, err := p.Artifacts.GetByID(ctx, agreementID)
	if err != nil {
		return err
	}
	if artifact.State != domain.ArtifactPublished {
		if err := p.Artifacts.Promote(ctx, agreementID); err != nil {
			return err
		}
	}

	dpID := artifact.DataPrincipal.DPID
	dfID := artifact.DataFiduciary.DFID
	if _, err := p.Audit.Append(ctx, dpID, dfID, map[string]any{
		"event":             string(domain.EventConsentGranted),
		"agreement_id":      artifact.AgreementID,
		"agreement_hash_id": artifact.AgreementHashID,
		"agreement_version": artifact.AgreementVersion,
		"cp_id":             artifact.CPID,
	}); err != nil {
		return fmt.Errorf("audit consent grant: %w", err)
	}

	if p.Scheduler != nil {
		if err := p.Scheduler.ScheduleArtifact(ctx, artifact); err != nil {
			return fmt.Errorf("schedule expiries: %w", err)
		}
	}

	event := eventFromArtifact(artifact, domain.EventConsentGranted)
	if err := p.Publisher.Publish(ctx, broker.ConsentEventsExchange, broker.ConsentEventsKey, event); err != nil {
		return fmt.Errorf("publish consent event: %w", err)
	}
	return nil
}

// eventFromArtifact projects the artifact scope into a lifecycle event
// carrying the purpose/processor structure fan-out filtering needs.
func eventFromArtifact(artifact domain.ConsentArtifact, et domain.EventType) domain.ConsentEvent {
	ev := domain.ConsentEvent{
		EventType:       et,
		DFID:            artifact.DataFiduciary.DFID,
		DPID:            artifact.DataPrincipal.DPID,
		AgreementID:     artifact.AgreementID,
		AgreementHashID: artifact.AgreementHashID,
		CPID:            artifact.CPID,
	}
	for _, de := range artifact.ConsentScope.DataElements {
		ede := domain.EventDataElement{
			DataElementID:     de.DataElementID,
			DataElementHashID: de.DataElementHashID,
			DataElementName:   de.DataElementName,
		}
		for _, c := range de.Consents {
			if c.ConsentStatus != domain.ConsentApproved {
				continue
			}
			ede.Purposes = append(ede.Purposes, domain.EventPurpose{
				PurposeID:        c.PurposeID,
				PurposeHashID:    c.PurposeHashID,
				PurposeName:      c.PurposeName,
				DataProcessors:   c.DataProcessors,
				MandatoryLegal:   c.MandatoryLegal,
				MandatoryService: c.MandatoryService,
				Reconsent:        c.Reconsent,
			})
		}
		if len(ede.Purposes) > 0 {
			ev.DataElements = append(ev.DataElements, ede)
		}
	}
	return ev
}
