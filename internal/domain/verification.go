package domain

import "time"

type VerificationOrigin string

const (
	VerificationInternal VerificationOrigin = "internal"
	VerificationExternal VerificationOrigin = "external"
)

// VerificationRequest asks whether the current artifact state covers the
// given (data element, purpose) hashes for a data principal. Exactly one of
// the principal identifiers must be supplied.
type VerificationRequest struct {
	RequestID         string   `json:"request_id"`
	DFID              string   `json:"df_id"`
	DPID              string   `json:"dp_id,omitempty"`
	DPSystemID        string   `json:"dp_system_id,omitempty"`
	DPE               string   `json:"dp_e,omitempty"`
	DPM               string   `json:"dp_m,omitempty"`
	DataElementsHash  []string `json:"data_elements_hash"`
	PurposeHash       string   `json:"purpose_hash"`
	Requester         string   `json:"requester,omitempty"`
}

type VerificationResult struct {
	RequestID     string   `json:"request_id"`
	Verified      bool     `json:"consent_status"`
	MatchedHashes []string `json:"matched_data_elements,omitempty"`
	AgreementID   string   `json:"agreement_id,omitempty"`
}

// ValidationLog records each verification attempt exactly once.
type ValidationLog struct {
	ID               string             `json:"id"`
	RequestID        string             `json:"request_id"`
	DFID             string             `json:"df_id"`
	DPID             string             `json:"dp_id,omitempty"`
	DPE              string             `json:"dp_e,omitempty"`
	DPM              string             `json:"dp_m,omitempty"`
	Requester        string             `json:"requester,omitempty"`
	ConsentStatus    bool               `json:"consent_status"`
	DataElementsHash []string           `json:"data_elements_hash"`
	PurposeHash      string             `json:"purpose_hash"`
	Timestamp        time.Time          `json:"timestamp"`
	InternalExternal VerificationOrigin `json:"internal_external"`
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BulkBatch tracks one bulk-verification run, file-backed or streamed.
type BulkBatch struct {
	BatchID     string      `json:"batch_id"`
	DFID        string      `json:"df_id"`
	FileKey     string      `json:"file_key,omitempty"`
	Status      BatchStatus `json:"status"`
	RowCount    int         `json:"row_count"`
	Processed   int         `json:"processed"`
	Success     int         `json:"success"`
	Failure     int         `json:"failure"`
	RowErrors   []RowError  `json:"row_errors,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}
