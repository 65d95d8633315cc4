package domain

import "time"

type NotificationType string

const (
	NotificationConsentHalted       NotificationType = "CONSENT_HALTED"
	NotificationConsentRenewal      NotificationType = "CONSENT_RENEWAL"
	NotificationDataRetentionExpiry NotificationType = "DATA_RETENTION_EXPIRY"
	NotificationValidationFailed    NotificationType = "CONSENT_VALIDATION_FAILED"
)

// Notification is a DP-facing message derived from consent lifecycle events.
// DedupKey prevents a scheduled firing from producing duplicates.
type Notification struct {
	ID            string           `json:"id"`
	DPID          string           `json:"dp_id"`
	DFID          string           `json:"df_id,omitempty"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message,omitempty"`
	ArtifactID    string           `json:"consent_artifact_id,omitempty"`
	DataElementID string           `json:"data_element_id,omitempty"`
	PurposeID     string           `json:"purpose_id,omitempty"`
	DedupKey      string           `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
}
