package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/memstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

func newAuditLog(t *testing.T) (*usecase.AuditLog, *memstore.AuditRepo) {
	t.Helper()
	signer, err := cryptoinfra.GenerateSigner("test-key")
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	repo := memstore.NewAuditRepo()
	return &usecase.AuditLog{Repo: repo, Signer: signer, Verifier: signer}, repo
}

func TestAuditAppendLinksChain(t *testing.T) {
	log, _ := newAuditLog(t)
	ctx := context.Background()

	first, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"event": "consent_granted"})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.PrevRecordHash != "" {
		t.Fatalf("genesis record has prev hash %q", first.PrevRecordHash)
	}
	if first.RecordHash == "" || first.DataHash == "" {
		t.Fatal("record missing hashes")
	}
	if len(first.Signature) == 0 {
		t.Fatal("record missing signature")
	}
	if first.SignedWithKeyID != "test-key" {
		t.Fatalf("expected key id test-key, got %s", first.SignedWithKeyID)
	}

	second, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"event": "consent_withdrawn"})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.PrevRecordHash != first.RecordHash {
		t.Fatalf("second record links %q, expected %q", second.PrevRecordHash, first.RecordHash)
	}

	// A different (dp, df) pair starts its own chain.
	other, err := log.Append(ctx, "dp-2", "df-1", nil)
	if err != nil {
		t.Fatalf("append other chain: %v", err)
	}
	if other.PrevRecordHash != "" {
		t.Fatal("separate pair must start a fresh chain")
	}
}

func TestAuditAppendRequiresIdentifiers(t *testing.T) {
	log, _ := newAuditLog(t)
	if _, err := log.Append(context.Background(), "", "df-1", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := log.Append(context.Background(), "dp-1", "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuditVerifyChainIntact(t *testing.T) {
	log, _ := newAuditLog(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	verified, err := log.VerifyChain(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(verified) != 3 {
		t.Fatalf("expected 3 records, got %d", len(verified))
	}
	for i, v := range verified {
		if v.Integrity.Tampered() {
			t.Fatalf("record %d flagged tampered: %+v", i, v.Integrity)
		}
	}
}

func TestAuditVerifyChainDetectsDataTamper(t *testing.T) {
	log, repo := newAuditLog(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	repo.Tamper("dp-1", "df-1", 1, func(rec *domain.AuditRecord) {
		rec.Data["n"] = 99
	})

	verified, err := log.VerifyChain(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified[0].Integrity.Tampered() {
		t.Fatal("untouched record flagged tampered")
	}
	if verified[1].Integrity.DataHashOK {
		t.Fatal("tampered payload passed data hash check")
	}
	if !verified[1].Integrity.Tampered() {
		t.Fatal("tampered record not flagged")
	}
	if tampered, _ := verified[1].Record.Data["tampered"].(bool); !tampered {
		t.Fatal("tampered marker not set on record data")
	}
}

func TestAuditVerifyChainHandlesNullData(t *testing.T) {
	log, repo := newAuditLog(t)
	ctx := context.Background()
	if _, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"event": "consent_granted"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A tampered data column that decodes to JSON null must still be flagged.
	repo.Tamper("dp-1", "df-1", 0, func(rec *domain.AuditRecord) {
		rec.Data = nil
	})

	verified, err := log.VerifyChain(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified[0].Integrity.DataHashOK {
		t.Fatal("nulled payload passed data hash check")
	}
	if tampered, _ := verified[0].Record.Data["tampered"].(bool); !tampered {
		t.Fatal("tampered marker not set on nulled record")
	}
}

func TestAuditVerifyChainDetectsBrokenLink(t *testing.T) {
	log, repo := newAuditLog(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := log.Append(ctx, "dp-1", "df-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	repo.Tamper("dp-1", "df-1", 1, func(rec *domain.AuditRecord) {
		rec.PrevRecordHash = "0000"
	})

	verified, err := log.VerifyChain(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified[1].Integrity.ChainOK {
		t.Fatal("broken link passed chain check")
	}
}

func TestAuditVerifyChainDetectsForgedSignature(t *testing.T) {
	log, repo := newAuditLog(t)
	ctx := context.Background()
	if _, err := log.Append(ctx, "dp-1", "df-1", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	repo.Tamper("dp-1", "df-1", 0, func(rec *domain.AuditRecord) {
		rec.Signature = []byte("not a signature")
	})

	verified, err := log.VerifyChain(ctx, "dp-1", "df-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified[0].Integrity.SignatureOK {
		t.Fatal("forged signature passed verification")
	}
	if verified[0].Integrity.DataHashOK != true || verified[0].Integrity.ChainOK != true {
		t.Fatal("signature tamper must not affect hash checks")
	}
}

func TestAuditTimestampsAreRFC3339(t *testing.T) {
	log, _ := newAuditLog(t)
	rec, err := log.Append(context.Background(), "dp-1", "df-1", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, rec.Timestamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", rec.Timestamp, err)
	}
}
