package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gawravmehta/sahaj-os-sub001/internal/canonical"
	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// AuditLog appends tamper-evident records to the per-(dp, df) audit chain.
// Each record hashes its predecessor and the hash is signed with the active
// ECDSA key.
type AuditLog struct {
	Repo     AuditRepository
	Signer   RecordSigner
	Verifier SignatureVerifier
	Now      func() time.Time
}

func (l *AuditLog) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

type auditDataEnvelope struct {
	DPID      string         `json:"dp_id"`
	DFID      string         `json:"df_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Append writes one record. The previous record hash is loaded inside the
// repository's chain serialization, so concurrent appends to the same
// (dp, df) chain never fork it.
func (l *AuditLog) Append(ctx context.Context, dpID, dfID string, event map[string]any) (domain.AuditRecord, error) {
	if dpID == "" || dfID == "" {
		return domain.AuditRecord{}, fmt.Errorf("%w: dp_id and df_id required", domain.ErrValidation)
	}
	if event == nil {
		event = map[string]any{}
	}

	prevHash := ""
	prev, err := l.Repo.LatestRecord(ctx, dpID, dfID)
	switch {
	case err == nil:
		prevHash = prev.RecordHash
	case isNotFound(err):
	default:
		return domain.AuditRecord{}, fmt.Errorf("load chain head: %w", err)
	}

	ts := l.now().Format(time.RFC3339)
	dataHash, err := computeDataHash(dpID, dfID, ts, event)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	recordHash := computeRecordHash(prevHash, dataHash, ts)

	signature, err := l.Signer.Sign([]byte(recordHash))
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("sign record: %w", err)
	}

	rec := domain.AuditRecord{
		ID:              uuid.NewString(),
		DPID:            dpID,
		DFID:            dfID,
		Timestamp:       ts,
		Data:            event,
		DataHash:        dataHash,
		PrevRecordHash:  prevHash,
		RecordHash:      recordHash,
		Signature:       signature,
		SignedWithKeyID: l.Signer.KeyID(),
		CreatedAt:       l.now(),
	}
	if err := l.Repo.Append(ctx, rec); err != nil {
		return domain.AuditRecord{}, err
	}
	return rec, nil
}

// VerifyChain recomputes every hash in the chain and checks signatures,
// returning the per-record integrity vector readers always see.
func (l *AuditLog) VerifyChain(ctx context.Context, dpID, dfID string) ([]domain.VerifiedAuditRecord, error) {
	records, err := l.Repo.List(ctx, dpID, dfID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VerifiedAuditRecord, 0, len(records))
	prevHash := ""
	for _, rec := range records {
		var integrity domain.RecordIntegrity

		dataHash, err := computeDataHash(rec.DPID, rec.DFID, rec.Timestamp, rec.Data)
		integrity.DataHashOK = err == nil && dataHash == rec.DataHash

		expected := computeRecordHash(prevHash, rec.DataHash, rec.Timestamp)
		integrity.ChainOK = rec.PrevRecordHash == prevHash && expected == rec.RecordHash

		integrity.SignatureOK = l.Verifier != nil && l.Verifier.VerifySignature([]byte(rec.RecordHash), rec.Signature)

		if integrity.Tampered() {
			// A tampered data column may have decoded to null.
			if rec.Data == nil {
				rec.Data = map[string]any{}
			}
			rec.Data["tampered"] = true
		}
		out = append(out, domain.VerifiedAuditRecord{Record: rec, Integrity: integrity})
		prevHash = rec.RecordHash
	}
	return out, nil
}

func computeDataHash(dpID, dfID, ts string, data map[string]any) (string, error) {
	body, err := canonical.JSON(auditDataEnvelope{DPID: dpID, DFID: dfID, Timestamp: ts, Data: data})
	if err != nil {
		return "", fmt.Errorf("canonicalize audit data: %w", err)
	}
	return canonical.SHA256Hex(body), nil
}

func computeRecordHash(prevHash, dataHash, ts string) string {
	return canonical.SHA256Hex([]byte(prevHash + dataHash + ts))
}
