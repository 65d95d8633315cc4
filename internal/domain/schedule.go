package domain

import "time"

type ScheduleEventType string

const (
	ScheduleConsentExpiry       ScheduleEventType = "consent_expiry"
	ScheduleDataRetentionExpiry ScheduleEventType = "data_retention_expiry"
)

// RenewalSchedule is a future-dated reminder/event for a consent or
// retention boundary within an artifact.
type RenewalSchedule struct {
	ID               string            `json:"id"`
	EventType        ScheduleEventType `json:"event_type"`
	ConsentArtifactID string           `json:"consent_artifact_id"`
	DataElementID    string            `json:"data_element_id"`
	PurposeID        string            `json:"purpose_id,omitempty"`
	ExpiryAt         time.Time         `json:"expiry_at"`
	NotificationSent bool              `json:"notification_sent"`
	CreatedAt        time.Time         `json:"created_at"`
}
