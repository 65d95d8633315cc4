package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

// Publisher is the broker surface the usecases depend on. The concrete
// broker also implements the RPC-style test path used when activating
// webhook subscriptions.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	PublishDelayed(ctx context.Context, exchange, routingKey string, body any, delay time.Duration) error
	PublishAndWait(ctx context.Context, exchange, routingKey string, body any, timeout time.Duration) (json.RawMessage, error)
	Reply(ctx context.Context, replyTo, correlationID string, body any) error
}

// PrincipalQuery selects artifacts by one of the accepted data-principal
// identifiers. Exactly one field should be set.
type PrincipalQuery struct {
	DPID       string
	DPSystemID string
	DPE        string
	DPM        string
}

func (q PrincipalQuery) Empty() bool {
	return q.DPID == "" && q.DPSystemID == "" && q.DPE == "" && q.DPM == ""
}

type ArtifactRepository interface {
	// Create persists a pending artifact. It returns
	// domain.ErrVersionConflict when another artifact already holds the
	// same (dp_id, cp_id, agreement_version) slot.
	Create(ctx context.Context, artifact domain.ConsentArtifact) error
	Promote(ctx context.Context, agreementID string) error
	GetByID(ctx context.Context, agreementID string) (domain.ConsentArtifact, error)
	LatestByPair(ctx context.Context, dpID, cpID string) (domain.ConsentArtifact, error)
	ListByPrincipal(ctx context.Context, dfID string, q PrincipalQuery) ([]domain.ConsentArtifact, error)
}

type AuditRepository interface {
	LatestRecord(ctx context.Context, dpID, dfID string) (domain.AuditRecord, error)
	Append(ctx context.Context, rec domain.AuditRecord) error
	List(ctx context.Context, dpID, dfID string) ([]domain.AuditRecord, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub domain.WebhookSubscription) error
	Get(ctx context.Context, webhookID string) (domain.WebhookSubscription, error)
	ListByDF(ctx context.Context, dfID string) ([]domain.WebhookSubscription, error)
	UpdateStatus(ctx context.Context, webhookID string, status domain.SubscriptionStatus) error
}

type WebhookEventRepository interface {
	Create(ctx context.Context, ev domain.WebhookEvent) error
	Get(ctx context.Context, eventID string) (domain.WebhookEvent, error)
	Update(ctx context.Context, ev domain.WebhookEvent) error
}

type ValidationLogRepository interface {
	Append(ctx context.Context, entry domain.ValidationLog) error
}

type BatchRepository interface {
	Create(ctx context.Context, batch domain.BulkBatch) error
	Update(ctx context.Context, batch domain.BulkBatch) error
	Get(ctx context.Context, batchID string) (domain.BulkBatch, error)
}

type NotificationRepository interface {
	// CreateIfAbsent inserts the notification unless one with the same
	// dedup key exists. Returns true when a row was written.
	CreateIfAbsent(ctx context.Context, n domain.Notification) (bool, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, s domain.RenewalSchedule) error
	MarkNotified(ctx context.Context, id string) error
}

type CollectionPointRepository interface {
	Get(ctx context.Context, cpID string) (domain.CollectionPoint, error)
}

// SessionStore is the ephemeral OTP/verification state. All mutations are
// atomic get-set-with-expiry operations of the backing store.
type SessionStore interface {
	PutOTP(ctx context.Context, key domain.SessionKey, sess domain.OTPSession, ttl time.Duration) error
	GetOTP(ctx context.Context, key domain.SessionKey) (domain.OTPSession, error)
	// UpdateOTP rewrites the session without touching its remaining TTL.
	UpdateOTP(ctx context.Context, key domain.SessionKey, sess domain.OTPSession) error
	DeleteOTP(ctx context.Context, key domain.SessionKey) error

	SetVerified(ctx context.Context, key domain.SessionKey, ttl time.Duration) error
	IsVerified(ctx context.Context, key domain.SessionKey) (bool, error)

	SetPendingAgreement(ctx context.Context, key domain.SessionKey, agreementID string, ttl time.Duration) error
	GetPendingAgreement(ctx context.Context, key domain.SessionKey) (string, error)
	// ConsumePendingAgreement atomically reads and deletes the pending
	// agreement indirection.
	ConsumePendingAgreement(ctx context.Context, key domain.SessionKey) (string, error)

	ExtendSession(ctx context.Context, key domain.SessionKey, ttl time.Duration) error
}

// NoticeTokenVerifier decodes and validates the signed notice JWT.
type NoticeTokenVerifier interface {
	Decode(token string) (domain.NoticeClaims, error)
}

// RecordSigner signs audit record hashes.
type RecordSigner interface {
	Sign(msg []byte) ([]byte, error)
	KeyID() string
}

// SignatureVerifier checks audit record signatures during chain reads.
type SignatureVerifier interface {
	VerifySignature(msg, sig []byte) bool
}

// BlobStore is the object-storage surface used for bulk verification files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
