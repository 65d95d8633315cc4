package usecase_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/brokermem"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/memstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

var schedulerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func scheduledArtifact() domain.ConsentArtifact {
	return domain.ConsentArtifact{
		AgreementID:   "agreement-1",
		CPID:          "cp-1",
		DataPrincipal: domain.DataPrincipal{DPID: "dp-1"},
		DataFiduciary: domain.DataFiduciary{DFID: "df-1"},
		ConsentScope: domain.ConsentScope{DataElements: []domain.DataElementConsent{
			{
				DataElementID:   "email",
				RetentionPeriod: schedulerNow.Add(72 * time.Hour),
				Consents: []domain.Consent{
					{PurposeID: "marketing", ConsentStatus: domain.ConsentApproved, ConsentExpiryPeriod: schedulerNow.Add(24 * time.Hour)},
					{PurposeID: "billing", ConsentStatus: domain.ConsentDenied, ConsentExpiryPeriod: schedulerNow.Add(24 * time.Hour)},
				},
			},
		}},
		State: domain.ArtifactPublished,
	}
}

func TestScheduleArtifactEnqueuesDelayedMessages(t *testing.T) {
	pub := brokermem.New()
	schedules := memstore.NewScheduleRepo()
	s := &usecase.ExpiryScheduler{Publisher: pub, Schedules: schedules, Now: func() time.Time { return schedulerNow }}

	if err := s.ScheduleArtifact(context.Background(), scheduledArtifact()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	consent := pub.To(broker.ConsentExpiryDelayQueue)
	if len(consent) != 1 {
		t.Fatalf("expected 1 consent-expiry message, got %d", len(consent))
	}
	if consent[0].Delay != 24*time.Hour {
		t.Fatalf("consent delay %v", consent[0].Delay)
	}
	var msg usecase.ExpiryMessage
	if err := json.Unmarshal(consent[0].Body, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.EventType != domain.ScheduleConsentExpiry || msg.PurposeID != "marketing" {
		t.Fatalf("message %+v", msg)
	}

	retention := pub.To(broker.DataExpiryDelayQueue)
	if len(retention) != 1 {
		t.Fatalf("expected 1 retention message, got %d", len(retention))
	}
	if retention[0].Delay != 72*time.Hour {
		t.Fatalf("retention delay %v", retention[0].Delay)
	}

	if len(schedules.Entries) != 2 {
		t.Fatalf("expected 2 schedule rows, got %d", len(schedules.Entries))
	}
}

func TestSchedulePastExpiryFiresImmediately(t *testing.T) {
	pub := brokermem.New()
	s := &usecase.ExpiryScheduler{Publisher: pub, Now: func() time.Time { return schedulerNow }}

	artifact := scheduledArtifact()
	artifact.ConsentScope.DataElements[0].Consents[0].ConsentExpiryPeriod = schedulerNow.Add(-time.Hour)
	if err := s.ScheduleArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if d := pub.To(broker.ConsentExpiryDelayQueue)[0].Delay; d != 0 {
		t.Fatalf("past expiry scheduled with delay %v", d)
	}
}

type expiryFixture struct {
	fire          *usecase.ExpiryFire
	artifacts     *memstore.ArtifactRepo
	notifications *memstore.NotificationRepo
	pub           *brokermem.Publisher
}

func newExpiryFixture(now time.Time) *expiryFixture {
	artifacts := memstore.NewArtifactRepo()
	notifications := memstore.NewNotificationRepo()
	pub := brokermem.New()
	nowFn := func() time.Time { return now }
	return &expiryFixture{
		fire: &usecase.ExpiryFire{
			Artifacts: artifacts,
			Publisher: pub,
			Notifications: &usecase.NotificationProjector{
				Notifications: notifications,
				Artifacts:     artifacts,
				Schedules:     memstore.NewScheduleRepo(),
				Now:           nowFn,
			},
			Now: nowFn,
		},
		artifacts:     artifacts,
		notifications: notifications,
		pub:           pub,
	}
}

func TestExpiryFireEmitsConsentExpired(t *testing.T) {
	now := schedulerNow.Add(25 * time.Hour)
	f := newExpiryFixture(now)
	ctx := context.Background()
	artifact := scheduledArtifact()
	if err := f.artifacts.Create(ctx, artifact); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	err := f.fire.Handle(ctx, usecase.ExpiryMessage{
		EventType:     domain.ScheduleConsentExpiry,
		ArtifactID:    "agreement-1",
		DataElementID: "email",
		PurposeID:     "marketing",
		ExpiryAt:      schedulerNow.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	events := f.pub.To(broker.ConsentEventsKey)
	if len(events) != 1 {
		t.Fatalf("expected 1 lifecycle event, got %d", len(events))
	}
	var event domain.ConsentEvent
	if err := json.Unmarshal(events[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventType != domain.EventConsentExpired || event.PurposeID != "marketing" {
		t.Fatalf("event %+v", event)
	}

	all := f.notifications.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 renewal notification, got %d", len(all))
	}
	if all[0].Type != domain.NotificationConsentRenewal {
		t.Fatalf("notification type %s", all[0].Type)
	}

	// Replaying the same message dedups on the notification key.
	if err := f.fire.Handle(ctx, usecase.ExpiryMessage{
		EventType:     domain.ScheduleConsentExpiry,
		ArtifactID:    "agreement-1",
		DataElementID: "email",
		PurposeID:     "marketing",
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(f.notifications.All()) != 1 {
		t.Fatal("replayed firing produced a second notification")
	}
}

func TestExpiryFireDropsWhenRenewed(t *testing.T) {
	now := schedulerNow.Add(25 * time.Hour)
	f := newExpiryFixture(now)
	ctx := context.Background()

	old := scheduledArtifact()
	old.AgreementVersion = 1
	if err := f.artifacts.Create(ctx, old); err != nil {
		t.Fatalf("store old: %v", err)
	}
	renewal := scheduledArtifact()
	renewal.AgreementID = "agreement-2"
	renewal.AgreementVersion = 2
	if err := f.artifacts.Create(ctx, renewal); err != nil {
		t.Fatalf("store renewal: %v", err)
	}

	err := f.fire.Handle(ctx, usecase.ExpiryMessage{
		EventType:     domain.ScheduleConsentExpiry,
		ArtifactID:    "agreement-1",
		DataElementID: "email",
		PurposeID:     "marketing",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.pub.Messages()) != 0 {
		t.Fatal("superseded artifact still fired an expiry event")
	}
}

func TestExpiryFireDropsWhenNotYetDue(t *testing.T) {
	// Fired early: the consent's expiry is still in the future.
	f := newExpiryFixture(schedulerNow)
	ctx := context.Background()
	if err := f.artifacts.Create(ctx, scheduledArtifact()); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	err := f.fire.Handle(ctx, usecase.ExpiryMessage{
		EventType:     domain.ScheduleConsentExpiry,
		ArtifactID:    "agreement-1",
		DataElementID: "email",
		PurposeID:     "marketing",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.pub.Messages()) != 0 {
		t.Fatal("not-yet-due consent fired")
	}
}

func TestExpiryFireMissingArtifactIsDropped(t *testing.T) {
	f := newExpiryFixture(schedulerNow)
	err := f.fire.Handle(context.Background(), usecase.ExpiryMessage{
		EventType:  domain.ScheduleConsentExpiry,
		ArtifactID: "gone",
	})
	if err != nil {
		t.Fatalf("missing artifact should be dropped, got %v", err)
	}
}

func TestExpiryFireRetentionAlwaysEmits(t *testing.T) {
	now := schedulerNow.Add(80 * time.Hour)
	f := newExpiryFixture(now)
	ctx := context.Background()
	if err := f.artifacts.Create(ctx, scheduledArtifact()); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	err := f.fire.Handle(ctx, usecase.ExpiryMessage{
		EventType:     domain.ScheduleDataRetentionExpiry,
		ArtifactID:    "agreement-1",
		DataElementID: "email",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	events := f.pub.To(broker.ConsentEventsKey)
	if len(events) != 1 {
		t.Fatalf("expected 1 erasure event, got %d", len(events))
	}
	var event domain.ConsentEvent
	if err := json.Unmarshal(events[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventType != domain.EventDataErasureRetention {
		t.Fatalf("event type %s", event.EventType)
	}
	all := f.notifications.All()
	if len(all) != 1 || all[0].Type != domain.NotificationDataRetentionExpiry {
		t.Fatalf("notifications %+v", all)
	}
}
