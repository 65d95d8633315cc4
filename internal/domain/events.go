package domain

import "time"

type EventType string

const (
	EventConsentGiven            EventType = "consent_given"
	EventConsentGranted          EventType = "consent_granted"
	EventConsentWithdrawn        EventType = "consent_withdrawn"
	EventConsentExpired          EventType = "consent_expired"
	EventDataErasureRetention    EventType = "data_erasure_retention_triggered"
	EventDataErasureManual       EventType = "data_erasure_manual_triggered"
	EventDataUpdateRequested     EventType = "data_update_requested"
	EventOTPVerification         EventType = "otp_verification"
	EventDFAcknowledged          EventType = "df_acknowledged"
	EventBulkVerificationBatch   EventType = "bulk_verification_batch"
	EventBulkVerificationDone    EventType = "bulk_verification_completed"
	EventDataRetentionExpiryType EventType = "data_retention_expiry"
)

type Classification string

const (
	ClassApproved              Classification = "approved"
	ClassWithdrawn             Classification = "withdrawn"
	ClassExpired               Classification = "expired"
	ClassDataErasureRetention  Classification = "data_erasure_retention_triggered"
	ClassDataErasureManual     Classification = "data_erasure_manual_triggered"
	ClassDataUpdateRequested   Classification = "data_update_requested"
	ClassUnclassified          Classification = "unclassified"
)

var classificationByEvent = map[EventType]Classification{
	EventConsentGiven:         ClassApproved,
	EventConsentGranted:       ClassApproved,
	EventConsentWithdrawn:     ClassWithdrawn,
	EventConsentExpired:       ClassExpired,
	EventDataErasureRetention: ClassDataErasureRetention,
	EventDataErasureManual:    ClassDataErasureManual,
	EventDataUpdateRequested:  ClassDataUpdateRequested,
}

// Classify maps an event type onto its fixed classification label. Unknown
// types classify as unclassified rather than failing.
func Classify(et EventType) Classification {
	if c, ok := classificationByEvent[et]; ok {
		return c
	}
	return ClassUnclassified
}

type EventPurpose struct {
	PurposeID      string          `json:"purpose_id"`
	PurposeHashID  string          `json:"purpose_hash_id,omitempty"`
	PurposeName    string          `json:"purpose_name,omitempty"`
	DataProcessors []DataProcessor `json:"data_processors,omitempty"`
	MandatoryLegal bool            `json:"mandatory_legal,omitempty"`
	MandatoryService bool          `json:"mandatory_service,omitempty"`
	Reconsent      bool            `json:"reconsent,omitempty"`
}

type EventDataElement struct {
	DataElementID     string         `json:"data_element_id"`
	DataElementHashID string         `json:"data_element_hash_id,omitempty"`
	DataElementName   string         `json:"data_element_name,omitempty"`
	Purposes          []EventPurpose `json:"purposes,omitempty"`
}

// ConsentEvent is the raw consent lifecycle event consumed from the
// consent-events queue. Fields marked internal are stripped before any copy
// leaves the platform.
type ConsentEvent struct {
	EventType     EventType          `json:"event_type"`
	DFID          string             `json:"df_id"`
	DPID          string             `json:"dp_id,omitempty"`
	AgreementID   string             `json:"consent_artifact_id,omitempty"`
	CPID          string             `json:"cp_id,omitempty"`
	Purposes      []EventPurpose     `json:"purposes,omitempty"`
	DataElements  []EventDataElement `json:"data_elements,omitempty"`
	PurposeHashes []string           `json:"purpose_hashes,omitempty"`
	DataElementID string             `json:"data_element_id,omitempty"`
	PurposeID     string             `json:"purpose_id,omitempty"`
	// DataProcessorID is set on DPR-scoped copies so the receiver knows
	// which processor the pruned payload was filtered for.
	DataProcessorID string `json:"data_processor_id,omitempty"`

	// Internal-only fields, dropped by normalization.
	AgreementHashID    string     `json:"agreement_hash_id,omitempty"`
	ConsentMode        string     `json:"consent_mode,omitempty"`
	CrossBorder        bool       `json:"cross_border,omitempty"`
	ConsentTimestamp   *time.Time `json:"consent_timestamp,omitempty"`
	RetentionTimestamp *time.Time `json:"retention_timestamp,omitempty"`

	Classification          Classification `json:"classification,omitempty"`
	ClassificationTimestamp *time.Time     `json:"classification_timestamp,omitempty"`
}

// Normalize strips internal-only fields so the event is safe to hand to a
// subscriber. It mutates a copy and returns it.
func (e ConsentEvent) Normalize() ConsentEvent {
	out := e
	out.AgreementHashID = ""
	out.ConsentMode = ""
	out.CrossBorder = false
	out.ConsentTimestamp = nil
	out.RetentionTimestamp = nil
	out.PurposeHashes = nil
	for i := range out.Purposes {
		out.Purposes[i] = out.Purposes[i].normalize()
	}
	for i := range out.DataElements {
		de := out.DataElements[i]
		de.DataElementHashID = ""
		for j := range de.Purposes {
			de.Purposes[j] = de.Purposes[j].normalize()
		}
		out.DataElements[i] = de
	}
	return out
}

func (p EventPurpose) normalize() EventPurpose {
	p.PurposeHashID = ""
	p.MandatoryLegal = false
	p.MandatoryService = false
	p.Reconsent = false
	return p
}

// ProcessorIDs collects every data-processor id referenced anywhere in the
// event payload, purpose level or data-element level.
func (e ConsentEvent) ProcessorIDs() []string {
	seen := map[string]bool{}
	var ids []string
	add := func(dps []DataProcessor) {
		for _, dp := range dps {
			if dp.DataProcessorID != "" && !seen[dp.DataProcessorID] {
				seen[dp.DataProcessorID] = true
				ids = append(ids, dp.DataProcessorID)
			}
		}
	}
	for _, p := range e.Purposes {
		add(p.DataProcessors)
	}
	for _, de := range e.DataElements {
		for _, p := range de.Purposes {
			add(p.DataProcessors)
		}
	}
	return ids
}
