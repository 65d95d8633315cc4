package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

// ExpiryMessage is the body of a time-triggered delay message. The terminal
// consumer re-checks artifact state before firing, so a stale message is
// harmless.
type ExpiryMessage struct {
	EventType     domain.ScheduleEventType `json:"event_type"`
	ArtifactID    string                   `json:"consent_artifact_id"`
	DataElementID string                   `json:"data_element_id"`
	PurposeID     string                   `json:"purpose_id,omitempty"`
	ExpiryAt      time.Time                `json:"expiry_at"`
}

// ExpiryScheduler enqueues delay-TTL messages so consent and retention
// expiries fire at the right instant.
type ExpiryScheduler struct {
	Publisher Publisher
	Schedules ScheduleRepository
	Now       func() time.Time
}

func (s *ExpiryScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ScheduleArtifact walks the artifact scope and schedules one consent-expiry
// message per approved (data element, purpose) and one retention-expiry
// message per data element.
func (s *ExpiryScheduler) ScheduleArtifact(ctx context.Context, artifact domain.ConsentArtifact) error {
	now := s.now()
	for _, de := range artifact.ConsentScope.DataElements {
		for _, c := range de.Consents {
			if c.ConsentStatus != domain.ConsentApproved {
				continue
			}
			msg := ExpiryMessage{
				EventType:     domain.ScheduleConsentExpiry,
				ArtifactID:    artifact.AgreementID,
				DataElementID: de.DataElementID,
				PurposeID:     c.PurposeID,
				ExpiryAt:      c.ConsentExpiryPeriod,
			}
			if err := s.schedule(ctx, broker.ConsentExpiryDelayQueue, msg, now); err != nil {
				return err
			}
		}
		msg := ExpiryMessage{
			EventType:     domain.ScheduleDataRetentionExpiry,
			ArtifactID:    artifact.AgreementID,
			DataElementID: de.DataElementID,
			ExpiryAt:      de.RetentionPeriod,
		}
		if err := s.schedule(ctx, broker.DataExpiryDelayQueue, msg, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExpiryScheduler) schedule(ctx context.Context, queue string, msg ExpiryMessage, now time.Time) error {
	delay := msg.ExpiryAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if err := s.Publisher.PublishDelayed(ctx, "", queue, msg, delay); err != nil {
		return fmt.Errorf("schedule %s for artifact %s: %w", msg.EventType, msg.ArtifactID, err)
	}
	if s.Schedules != nil {
		return s.Schedules.Create(ctx, domain.RenewalSchedule{
			ID:                uuid.NewString(),
			EventType:         msg.EventType,
			ConsentArtifactID: msg.ArtifactID,
			DataElementID:     msg.DataElementID,
			PurposeID:         msg.PurposeID,
			ExpiryAt:          msg.ExpiryAt,
			CreatedAt:         now,
		})
	}
	return nil
}

// ExpiryFire consumes fired delay messages. It checks current artifact
// state first: the principal may have withdrawn or renewed in the interim,
// in which case the message is dropped.
type ExpiryFire struct {
	Artifacts     ArtifactRepository
	Publisher     Publisher
	Notifications *NotificationProjector
	Now           func() time.Time
}

func (f *ExpiryFire) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

func (f *ExpiryFire) Handle(ctx context.Context, msg ExpiryMessage) error {
	artifact, err := f.Artifacts.GetByID(ctx, msg.ArtifactID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	// Only the latest artifact in its (dp, cp) chain is authoritative; a
	// renewal supersedes the scheduled expiry.
	latest, err := f.Artifacts.LatestByPair(ctx, artifact.DataPrincipal.DPID, artifact.CPID)
	if err != nil {
		return err
	}
	if latest.AgreementID != artifact.AgreementID {
		return nil
	}

	switch msg.EventType {
	case domain.ScheduleConsentExpiry:
		if !f.consentStillApproved(artifact, msg) {
			return nil
		}
		return f.emit(ctx, artifact, msg, domain.EventConsentExpired)
	case domain.ScheduleDataRetentionExpiry:
		return f.emit(ctx, artifact, msg, domain.EventDataErasureRetention)
	default:
		return fmt.Errorf("%w: unknown schedule event %q", domain.ErrValidation, msg.EventType)
	}
}

func (f *ExpiryFire) consentStillApproved(artifact domain.ConsentArtifact, msg ExpiryMessage) bool {
	now := f.now()
	for _, de := range artifact.ConsentScope.DataElements {
		if de.DataElementID != msg.DataElementID {
			continue
		}
		for _, c := range de.Consents {
			if c.PurposeID != msg.PurposeID {
				continue
			}
			return c.ConsentStatus == domain.ConsentApproved && !c.ConsentExpiryPeriod.After(now)
		}
	}
	return false
}

func (f *ExpiryFire) emit(ctx context.Context, artifact domain.ConsentArtifact, msg ExpiryMessage, et domain.EventType) error {
	event := domain.ConsentEvent{
		EventType:     et,
		DFID:          artifact.DataFiduciary.DFID,
		DPID:          artifact.DataPrincipal.DPID,
		AgreementID:   artifact.AgreementID,
		CPID:          artifact.CPID,
		DataElementID: msg.DataElementID,
		PurposeID:     msg.PurposeID,
	}
	if err := f.Publisher.Publish(ctx, broker.ConsentEventsExchange, broker.ConsentEventsKey, event); err != nil {
		return fmt.Errorf("publish expiry event: %w", err)
	}
	if f.Notifications != nil {
		if err := f.Notifications.OnScheduledExpiry(ctx, artifact, msg); err != nil {
			return err
		}
	}
	return nil
}
