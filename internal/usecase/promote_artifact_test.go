package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/brokermem"
	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/memstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type promoteFixture struct {
	promoter  *usecase.PromoteArtifact
	artifacts *memstore.ArtifactRepo
	audit     *memstore.AuditRepo
	schedules *memstore.ScheduleRepo
	pub       *brokermem.Publisher
}

func newPromoteFixture(t *testing.T) *promoteFixture {
	t.Helper()
	signer, err := cryptoinfra.GenerateSigner("test-key")
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	artifacts := memstore.NewArtifactRepo()
	auditRepo := memstore.NewAuditRepo()
	schedules := memstore.NewScheduleRepo()
	pub := brokermem.New()
	return &promoteFixture{
		promoter: &usecase.PromoteArtifact{
			Artifacts: artifacts,
			Audit:     &usecase.AuditLog{Repo: auditRepo, Signer: signer, Verifier: signer},
			Scheduler: &usecase.ExpiryScheduler{Publisher: pub, Schedules: schedules},
			Publisher: pub,
		},
		artifacts: artifacts,
		audit:     auditRepo,
		schedules: schedules,
		pub:       pub,
	}
}

func pendingArtifact() domain.ConsentArtifact {
	expiry := time.Now().Add(48 * time.Hour)
	return domain.ConsentArtifact{
		AgreementID:      "agreement-1",
		AgreementHashID:  "hash-1",
		AgreementVersion: 1,
		CPID:             "cp-1",
		DataPrincipal:    domain.DataPrincipal{DPID: "dp-1"},
		DataFiduciary:    domain.DataFiduciary{DFID: "df-1"},
		ConsentScope: domain.ConsentScope{DataElements: []domain.DataElementConsent{
			{
				DataElementID:   "email",
				RetentionPeriod: expiry.Add(24 * time.Hour),
				Consents: []domain.Consent{
					{
						PurposeID:           "marketing",
						ConsentStatus:       domain.ConsentApproved,
						ConsentExpiryPeriod: expiry,
						DataProcessors:      []domain.DataProcessor{{DataProcessorID: "dpr-1"}},
					},
					{PurposeID: "billing", ConsentStatus: domain.ConsentDenied, ConsentExpiryPeriod: expiry},
				},
			},
		}},
		State: domain.ArtifactPending,
	}
}

func TestPromotePublishesAndAudits(t *testing.T) {
	f := newPromoteFixture(t)
	ctx := context.Background()
	if err := f.artifacts.Create(ctx, pendingArtifact()); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	if err := f.promoter.Execute(ctx, "agreement-1"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	artifact, err := f.artifacts.GetByID(ctx, "agreement-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if artifact.State != domain.ArtifactPublished {
		t.Fatalf("state %s, want published", artifact.State)
	}

	records, err := f.audit.List(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].Data["event"] != string(domain.EventConsentGranted) {
		t.Fatalf("audit event %v", records[0].Data["event"])
	}

	// One consent expiry plus one retention expiry scheduled.
	if len(f.schedules.Entries) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(f.schedules.Entries))
	}

	events := f.pub.To(broker.ConsentEventsKey)
	if len(events) != 1 {
		t.Fatalf("expected 1 lifecycle event, got %d", len(events))
	}
	var event domain.ConsentEvent
	if err := json.Unmarshal(events[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventType != domain.EventConsentGranted || event.AgreementID != "agreement-1" {
		t.Fatalf("event %+v", event)
	}
	// Only approved purposes are projected into the event scope.
	if len(event.DataElements) != 1 || len(event.DataElements[0].Purposes) != 1 {
		t.Fatalf("event scope %+v", event.DataElements)
	}
	if event.DataElements[0].Purposes[0].PurposeID != "marketing" {
		t.Fatalf("projected purpose %s", event.DataElements[0].Purposes[0].PurposeID)
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newPromoteFixture(t)
	ctx := context.Background()
	if err := f.artifacts.Create(ctx, pendingArtifact()); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	if err := f.promoter.Execute(ctx, "agreement-1"); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := f.promoter.Execute(ctx, "agreement-1"); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	artifact, _ := f.artifacts.GetByID(ctx, "agreement-1")
	if artifact.State != domain.ArtifactPublished {
		t.Fatalf("state %s", artifact.State)
	}
	// A replayed promotion re-audits and re-publishes; downstream consumers
	// dedup. The artifact write itself must not fail.
	if len(f.pub.To(broker.ConsentEventsKey)) != 2 {
		t.Fatalf("expected 2 lifecycle events after replay")
	}
}

func TestPromoteUnknownArtifact(t *testing.T) {
	f := newPromoteFixture(t)
	if err := f.promoter.Execute(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromoteRequiresID(t *testing.T) {
	f := newPromoteFixture(t)
	if err := f.promoter.Execute(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
