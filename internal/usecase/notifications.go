package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// NotificationProjector derives DP-facing notifications from lifecycle
// events. Scheduled firings dedup on (dp, artifact, de, purpose?, type) so
// a replayed message never produces a second notification.
type NotificationProjector struct {
	Notifications NotificationRepository
	Artifacts     ArtifactRepository
	Schedules     ScheduleRepository
	Now           func() time.Time
}

func (p *NotificationProjector) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// OnDFAck records that the fiduciary confirmed processing halted after a
// withdrawal or expiry propagated.
func (p *NotificationProjector) OnDFAck(ctx context.Context, dfID, dpID, agreementID string) error {
	title := "Processing halted"
	if artifact, err := p.Artifacts.GetByID(ctx, agreementID); err == nil && artifact.CPName != "" {
		title = fmt.Sprintf("Processing halted for %s", artifact.CPName)
	}
	n := domain.Notification{
		ID:         uuid.NewString(),
		DPID:       dpID,
		DFID:       dfID,
		Type:       domain.NotificationConsentHalted,
		Title:      title,
		ArtifactID: agreementID,
		DedupKey:   dedupKey(dpID, agreementID, "", "", domain.NotificationConsentHalted),
		CreatedAt:  p.now(),
	}
	_, err := p.Notifications.CreateIfAbsent(ctx, n)
	return err
}

// OnScheduledExpiry projects a consent-renewal or retention-expiry
// notification from a fired schedule, once.
func (p *NotificationProjector) OnScheduledExpiry(ctx context.Context, artifact domain.ConsentArtifact, msg ExpiryMessage) error {
	var ntype domain.NotificationType
	var title string
	switch msg.EventType {
	case domain.ScheduleConsentExpiry:
		ntype = domain.NotificationConsentRenewal
		title = renewalTitle(artifact, msg)
	case domain.ScheduleDataRetentionExpiry:
		ntype = domain.NotificationDataRetentionExpiry
		title = retentionTitle(artifact, msg)
	default:
		return fmt.Errorf("%w: unknown schedule event %q", domain.ErrValidation, msg.EventType)
	}
	n := domain.Notification{
		ID:            uuid.NewString(),
		DPID:          artifact.DataPrincipal.DPID,
		DFID:          artifact.DataFiduciary.DFID,
		Type:          ntype,
		Title:         title,
		ArtifactID:    artifact.AgreementID,
		DataElementID: msg.DataElementID,
		PurposeID:     msg.PurposeID,
		DedupKey:      dedupKey(artifact.DataPrincipal.DPID, artifact.AgreementID, msg.DataElementID, msg.PurposeID, ntype),
		CreatedAt:     p.now(),
	}
	created, err := p.Notifications.CreateIfAbsent(ctx, n)
	if err != nil {
		return err
	}
	if created && p.Schedules != nil {
		// Best effort; the dedup key is what actually prevents repeats.
		_ = p.Schedules.MarkNotified(ctx, msg.ArtifactID)
	}
	return nil
}

// OnValidationFailed notifies the principal that a verification against
// their artifacts failed.
func (p *NotificationProjector) OnValidationFailed(ctx context.Context, artifact domain.ConsentArtifact, req domain.VerificationRequest) error {
	n := domain.Notification{
		ID:         uuid.NewString(),
		DPID:       artifact.DataPrincipal.DPID,
		DFID:       req.DFID,
		Type:       domain.NotificationValidationFailed,
		Title:      "Consent validation failed",
		Message:    fmt.Sprintf("A consent verification by %s did not match your current consents.", req.Requester),
		ArtifactID: artifact.AgreementID,
		DedupKey:   dedupKey(artifact.DataPrincipal.DPID, artifact.AgreementID, strings.Join(req.DataElementsHash, ","), req.PurposeHash, domain.NotificationValidationFailed),
		CreatedAt:  p.now(),
	}
	_, err := p.Notifications.CreateIfAbsent(ctx, n)
	return err
}

func renewalTitle(artifact domain.ConsentArtifact, msg ExpiryMessage) string {
	for _, de := range artifact.ConsentScope.DataElements {
		if de.DataElementID != msg.DataElementID {
			continue
		}
		for _, c := range de.Consents {
			if c.PurposeID == msg.PurposeID && c.PurposeName != "" {
				return fmt.Sprintf("Consent for %s is expiring", c.PurposeName)
			}
		}
		if de.DataElementName != "" {
			return fmt.Sprintf("Consent for %s is expiring", de.DataElementName)
		}
	}
	return "A consent is expiring"
}

func retentionTitle(artifact domain.ConsentArtifact, msg ExpiryMessage) string {
	for _, de := range artifact.ConsentScope.DataElements {
		if de.DataElementID == msg.DataElementID && de.DataElementName != "" {
			return fmt.Sprintf("Retention period for %s has ended", de.DataElementName)
		}
	}
	return "A data retention period has ended"
}

func dedupKey(dpID, artifactID, deID, purposeID string, ntype domain.NotificationType) string {
	return strings.Join([]string{dpID, artifactID, deID, purposeID, string(ntype)}, "|")
}
