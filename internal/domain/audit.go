package domain

import "time"

// AuditRecord is one append-only entry in the per-(dp, df) consent audit
// chain. RecordHash links the predecessor, and the hash is ECDSA-signed.
type AuditRecord struct {
	ID              string         `json:"id"`
	DPID            string         `json:"dp_id"`
	DFID            string         `json:"df_id"`
	Timestamp       string         `json:"timestamp"`
	Data            map[string]any `json:"data"`
	DataHash        string         `json:"data_hash"`
	PrevRecordHash  string         `json:"prev_record_hash"`
	RecordHash      string         `json:"record_hash"`
	Signature       []byte         `json:"signature"`
	SignedWithKeyID string         `json:"signed_with_key_id"`
	CreatedAt       time.Time      `json:"-"`
}

// RecordIntegrity is the per-record integrity vector returned to readers of
// an audit chain.
type RecordIntegrity struct {
	DataHashOK  bool `json:"data_hash_ok"`
	ChainOK     bool `json:"chain_ok"`
	SignatureOK bool `json:"signature_ok"`
}

func (v RecordIntegrity) Tampered() bool {
	return !v.DataHashOK || !v.ChainOK || !v.SignatureOK
}

// VerifiedAuditRecord pairs a stored record with its recomputed integrity.
type VerifiedAuditRecord struct {
	Record    AuditRecord     `json:"record"`
	Integrity RecordIntegrity `json:"integrity"`
}
