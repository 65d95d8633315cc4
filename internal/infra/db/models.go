package db

import "time"

type ConsentArtifactModel struct {
	AgreementID      string `gorm:"type:uuid;primaryKey"`
	AgreementHashID  string `gorm:"index;not null"`
	AgreementVersion int    `gorm:"uniqueIndex:idx_artifact_slot,priority:3;not null"`
	DPID             string `gorm:"column:dp_id;uniqueIndex:idx_artifact_slot,priority:1;index;not null"`
	DPSystemID       string `gorm:"column:dp_system_id;index"`
	DPE              string `gorm:"column:dp_e;index"`
	DPM              string `gorm:"column:dp_m;index"`
	CPID             string `gorm:"column:cp_id;uniqueIndex:idx_artifact_slot,priority:2;index;not null"`
	DFID             string `gorm:"column:df_id;index;not null"`
	State            string `gorm:"index;not null"`
	BodyJSON         []byte `gorm:"type:jsonb;not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (ConsentArtifactModel) TableName() string { return "consent_artifacts" }

type AuditRecordModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	DPID            string `gorm:"column:dp_id;index:idx_audit_chain;not null"`
	DFID            string `gorm:"column:df_id;index:idx_audit_chain;not null"`
	Timestamp       string `gorm:"not null"`
	DataJSON        []byte `gorm:"type:jsonb;not null"`
	DataHash        string `gorm:"not null"`
	PrevRecordHash  string
	RecordHash      string `gorm:"uniqueIndex;not null"`
	Signature       []byte `gorm:"type:bytea;not null"`
	SignedWithKeyID string `gorm:"not null"`
	CreatedAt       time.Time `gorm:"index;not null"`
}

func (AuditRecordModel) TableName() string { return "consent_audit_records" }

type WebhookSubscriptionModel struct {
	WebhookID        string `gorm:"type:uuid;primaryKey"`
	DFID             string `gorm:"column:df_id;uniqueIndex:idx_webhook_endpoint,priority:1;index;not null"`
	DPRID            string `gorm:"column:dpr_id;index"`
	URL              string `gorm:"uniqueIndex:idx_webhook_endpoint,priority:2;not null"`
	Environment      string `gorm:"not null"`
	Status           string `gorm:"index;not null"`
	SubscribedEvents []byte `gorm:"type:jsonb;not null"`
	WebhookFor       string `gorm:"not null"`
	AuthJSON         []byte `gorm:"type:jsonb"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (WebhookSubscriptionModel) TableName() string { return "webhook_subscriptions" }

type WebhookEventModel struct {
	EventID     string `gorm:"type:uuid;primaryKey"`
	WebhookID   string `gorm:"type:uuid;index;not null"`
	DFID        string `gorm:"column:df_id;index;not null"`
	DPID        string `gorm:"column:dp_id;index"`
	PayloadJSON []byte `gorm:"type:jsonb;not null"`
	Status      string `gorm:"index;not null"`
	Retries     int    `gorm:"not null"`
	LastError   string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (WebhookEventModel) TableName() string { return "webhook_events" }

type ValidationLogModel struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	RequestID        string `gorm:"index"`
	DFID             string `gorm:"column:df_id;index;not null"`
	DPID             string `gorm:"column:dp_id;index"`
	DPE              string `gorm:"column:dp_e"`
	DPM              string `gorm:"column:dp_m"`
	Requester        string
	ConsentStatus    bool   `gorm:"not null"`
	DataElementsJSON []byte `gorm:"type:jsonb;not null"`
	PurposeHash      string `gorm:"not null"`
	Timestamp        time.Time `gorm:"index;not null"`
	InternalExternal string `gorm:"not null"`
}

func (ValidationLogModel) TableName() string { return "consent_validation_logs" }

type BulkBatchModel struct {
	BatchID       string `gorm:"type:uuid;primaryKey"`
	DFID          string `gorm:"column:df_id;index;not null"`
	FileKey       string
	Status        string `gorm:"index;not null"`
	RowCount      int
	Processed     int
	Success       int
	Failure       int
	RowErrorsJSON []byte `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"not null"`
	CompletedAt   *time.Time
}

func (BulkBatchModel) TableName() string { return "bulk_verification_batches" }

type NotificationModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	DPID          string `gorm:"column:dp_id;index;not null"`
	DFID          string `gorm:"column:df_id;index"`
	Type          string `gorm:"not null"`
	Title         string `gorm:"not null"`
	Message       string
	ArtifactID    string `gorm:"index"`
	DataElementID string
	PurposeID     string
	DedupKey      string `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (NotificationModel) TableName() string { return "dp_notifications" }

type RenewalScheduleModel struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	EventType         string `gorm:"index;not null"`
	ConsentArtifactID string `gorm:"type:uuid;index;not null"`
	DataElementID     string `gorm:"not null"`
	PurposeID         string
	ExpiryAt          time.Time `gorm:"index;not null"`
	NotificationSent  bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (RenewalScheduleModel) TableName() string { return "renewal_schedules" }

type CollectionPointModel struct {
	CPID             string `gorm:"column:cp_id;type:uuid;primaryKey"`
	CPName           string `gorm:"column:cp_name;not null"`
	DFID             string `gorm:"column:df_id;index;not null"`
	DataElementsJSON []byte `gorm:"type:jsonb;not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (CollectionPointModel) TableName() string { return "collection_points" }
