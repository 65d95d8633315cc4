package domain

import "time"

type ConsentStatus string

const (
	ConsentApproved  ConsentStatus = "approved"
	ConsentDenied    ConsentStatus = "denied"
	ConsentExpired   ConsentStatus = "expired"
	ConsentWithdrawn ConsentStatus = "withdrawn"
)

type ArtifactState string

const (
	ArtifactPending   ArtifactState = "pending"
	ArtifactPublished ArtifactState = "published"
)

type DataProcessor struct {
	DataProcessorID string `json:"data_processor_id"`
	Name            string `json:"name,omitempty"`
}

// Consent is the per-purpose grant inside a data element scope.
type Consent struct {
	PurposeID           string          `json:"purpose_id"`
	PurposeHashID       string          `json:"purpose_hash_id"`
	PurposeName         string          `json:"purpose_name,omitempty"`
	ConsentStatus       ConsentStatus   `json:"consent_status"`
	ConsentTimestamp    time.Time       `json:"consent_timestamp"`
	ConsentExpiryPeriod time.Time       `json:"consent_expiry_period"`
	RetentionTimestamp  time.Time       `json:"retention_timestamp"`
	DataProcessors      []DataProcessor `json:"data_processors"`
	MandatoryLegal      bool            `json:"mandatory_legal"`
	MandatoryService    bool            `json:"mandatory_service"`
	Reconsent           bool            `json:"reconsent"`
}

type DataElementConsent struct {
	DataElementID     string    `json:"data_element_id"`
	DataElementHashID string    `json:"data_element_hash_id"`
	DataElementName   string    `json:"data_element_name,omitempty"`
	RetentionPeriod   time.Time `json:"data_retention_period"`
	Consents          []Consent `json:"consents"`
}

type ConsentScope struct {
	DataElements []DataElementConsent `json:"data_elements"`
}

type DataPrincipal struct {
	DPID string `json:"dp_id"`
	// DPSystemID is the fiduciary's own identifier for the principal.
	DPSystemID string `json:"dp_system_id,omitempty"`
	Residency  string `json:"residency,omitempty"`
	// DPE and DPM are SHAKE-256 hashes of the principal's email and
	// mobile so lookup by hash works without storing plaintext.
	DPE      string `json:"dp_e,omitempty"`
	DPM      string `json:"dp_m,omitempty"`
	Verified bool   `json:"verified"`
}

type DataFiduciary struct {
	DFID          string    `json:"df_id"`
	AgreementDate time.Time `json:"agreement_date"`
}

type ArtifactMetadata struct {
	IP                string `json:"ip,omitempty"`
	RequestHeaderHash string `json:"request_header_hash,omitempty"`
}

// ConsentArtifact is the authoritative record of a (data principal,
// collection point) consent snapshot. Artifacts are immutable; a change of
// consent produces a new artifact that links back to its predecessor via
// LinkedAgreementHash, forming a per-(dp, cp) chain.
type ConsentArtifact struct {
	AgreementID         string           `json:"agreement_id"`
	AgreementHashID     string           `json:"agreement_hash_id"`
	AgreementVersion    int              `json:"agreement_version"`
	LinkedAgreementHash string           `json:"linked_agreement_hash,omitempty"`
	CPID                string           `json:"cp_id"`
	CPName              string           `json:"cp_name,omitempty"`
	Metadata            ArtifactMetadata `json:"metadata"`
	DataPrincipal       DataPrincipal    `json:"data_principal"`
	DataFiduciary       DataFiduciary    `json:"data_fiduciary"`
	ConsentScope        ConsentScope     `json:"consent_scope"`
	State               ArtifactState    `json:"-"`
	CreatedAt           time.Time        `json:"-"`
}

// Body returns the hash pre-image view of the artifact: everything except
// the hash identifier itself and storage-side state.
func (a ConsentArtifact) Body() ConsentArtifact {
	body := a
	body.AgreementHashID = ""
	body.State = ""
	body.CreatedAt = time.Time{}
	return body
}
