// Package memstore provides in-memory implementations of the repository
// interfaces, for unit tests and local development without Postgres.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type artifactSlot struct {
	dpID    string
	cpID    string
	version int
}

type ArtifactRepo struct {
	mu    sync.RWMutex
	byID  map[string]domain.ConsentArtifact
	slots map[artifactSlot]string
}

func NewArtifactRepo() *ArtifactRepo {
	return &ArtifactRepo{
		byID:  map[string]domain.ConsentArtifact{},
		slots: map[artifactSlot]string{},
	}
}

func (r *ArtifactRepo) Create(_ context.Context, artifact domain.ConsentArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := artifactSlot{artifact.DataPrincipal.DPID, artifact.CPID, artifact.AgreementVersion}
	if _, taken := r.slots[slot]; taken {
		return fmt.Errorf("%w: artifact version %d", domain.ErrVersionConflict, artifact.AgreementVersion)
	}
	r.slots[slot] = artifact.AgreementID
	r.byID[artifact.AgreementID] = artifact
	return nil
}

func (r *ArtifactRepo) Promote(_ context.Context, agreementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	artifact, ok := r.byID[agreementID]
	if !ok {
		return fmt.Errorf("%w: artifact %s", domain.ErrNotFound, agreementID)
	}
	artifact.State = domain.ArtifactPublished
	r.byID[agreementID] = artifact
	return nil
}

func (r *ArtifactRepo) GetByID(_ context.Context, agreementID string) (domain.ConsentArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.byID[agreementID]
	if !ok {
		return domain.ConsentArtifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, agreementID)
	}
	return artifact, nil
}

func (r *ArtifactRepo) LatestByPair(_ context.Context, dpID, cpID string) (domain.ConsentArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best domain.ConsentArtifact
	found := false
	for _, a := range r.byID {
		if a.DataPrincipal.DPID != dpID || a.CPID != cpID {
			continue
		}
		if !found || a.AgreementVersion > best.AgreementVersion {
			best = a
			found = true
		}
	}
	if !found {
		return domain.ConsentArtifact{}, fmt.Errorf("%w: no artifact for pair", domain.ErrNotFound)
	}
	return best, nil
}

func (r *ArtifactRepo) ListByPrincipal(_ context.Context, dfID string, q usecase.PrincipalQuery) ([]domain.ConsentArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConsentArtifact
	for _, a := range r.byID {
		if a.DataFiduciary.DFID != dfID || a.State != domain.ArtifactPublished {
			continue
		}
		dp := a.DataPrincipal
		match := (q.DPID != "" && dp.DPID == q.DPID) ||
			(q.DPSystemID != "" && dp.DPSystemID == q.DPSystemID) ||
			(q.DPE != "" && dp.DPE == q.DPE) ||
			(q.DPM != "" && dp.DPM == q.DPM)
		if match {
			out = append(out, a)
		}
	}
	return out, nil
}

type AuditRepo struct {
	mu     sync.RWMutex
	chains map[string][]domain.AuditRecord
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{chains: map[string][]domain.AuditRecord{}}
}

func chainKey(dpID, dfID string) string { return dpID + "|" + dfID }

func (r *AuditRepo) LatestRecord(_ context.Context, dpID, dfID string) (domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chains[chainKey(dpID, dfID)]
	if len(chain) == 0 {
		return domain.AuditRecord{}, fmt.Errorf("%w: audit chain head", domain.ErrNotFound)
	}
	return chain[len(chain)-1], nil
}

func (r *AuditRepo) Append(_ context.Context, rec domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := chainKey(rec.DPID, rec.DFID)
	r.chains[key] = append(r.chains[key], rec)
	return nil
}

func (r *AuditRepo) List(_ context.Context, dpID, dfID string) ([]domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chains[chainKey(dpID, dfID)]
	out := make([]domain.AuditRecord, len(chain))
	copy(out, chain)
	return out, nil
}

// Tamper rewrites a stored record in place, for chain-verification tests.
func (r *AuditRepo) Tamper(dpID, dfID string, index int, mutate func(*domain.AuditRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[chainKey(dpID, dfID)]
	if index >= 0 && index < len(chain) {
		mutate(&chain[index])
	}
}

type SubscriptionRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.WebhookSubscription
}

func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{byID: map[string]domain.WebhookSubscription{}}
}

func (r *SubscriptionRepo) Create(_ context.Context, sub domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.DFID == sub.DFID && existing.URL == sub.URL {
			return fmt.Errorf("%w: %s at %s", domain.ErrDuplicateWebhook, sub.DFID, sub.URL)
		}
	}
	r.byID[sub.WebhookID] = sub
	return nil
}

func (r *SubscriptionRepo) Get(_ context.Context, webhookID string) (domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[webhookID]
	if !ok {
		return domain.WebhookSubscription{}, fmt.Errorf("%w: webhook %s", domain.ErrNotFound, webhookID)
	}
	return sub, nil
}

func (r *SubscriptionRepo) ListByDF(_ context.Context, dfID string) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookSubscription
	for _, sub := range r.byID {
		if sub.DFID == dfID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *SubscriptionRepo) UpdateStatus(_ context.Context, webhookID string, status domain.SubscriptionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[webhookID]
	if !ok {
		return fmt.Errorf("%w: webhook %s", domain.ErrNotFound, webhookID)
	}
	sub.Status = status
	r.byID[webhookID] = sub
	return nil
}

type WebhookEventRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.WebhookEvent
}

func NewWebhookEventRepo() *WebhookEventRepo {
	return &WebhookEventRepo{byID: map[string]domain.WebhookEvent{}}
}

func (r *WebhookEventRepo) Create(_ context.Context, ev domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ev.EventID] = ev
	return nil
}

func (r *WebhookEventRepo) Get(_ context.Context, eventID string) (domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.byID[eventID]
	if !ok {
		return domain.WebhookEvent{}, fmt.Errorf("%w: webhook event %s", domain.ErrNotFound, eventID)
	}
	return ev, nil
}

func (r *WebhookEventRepo) Update(_ context.Context, ev domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[ev.EventID]; !ok {
		return fmt.Errorf("%w: webhook event %s", domain.ErrNotFound, ev.EventID)
	}
	r.byID[ev.EventID] = ev
	return nil
}

// All returns every stored event, for assertions.
func (r *WebhookEventRepo) All() []domain.WebhookEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WebhookEvent, 0, len(r.byID))
	for _, ev := range r.byID {
		out = append(out, ev)
	}
	return out
}

type ValidationLogRepo struct {
	mu      sync.RWMutex
	Entries []domain.ValidationLog
}

func NewValidationLogRepo() *ValidationLogRepo { return &ValidationLogRepo{} }

func (r *ValidationLogRepo) Append(_ context.Context, entry domain.ValidationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, entry)
	return nil
}

type BatchRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.BulkBatch
}

func NewBatchRepo() *BatchRepo {
	return &BatchRepo{byID: map[string]domain.BulkBatch{}}
}

func (r *BatchRepo) Create(_ context.Context, batch domain.BulkBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byID[batch.BatchID]; taken {
		return fmt.Errorf("%w: batch %s", domain.ErrConflict, batch.BatchID)
	}
	r.byID[batch.BatchID] = batch
	return nil
}

func (r *BatchRepo) Update(_ context.Context, batch domain.BulkBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[batch.BatchID]; !ok {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batch.BatchID)
	}
	r.byID[batch.BatchID] = batch
	return nil
}

func (r *BatchRepo) Get(_ context.Context, batchID string) (domain.BulkBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.byID[batchID]
	if !ok {
		return domain.BulkBatch{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return batch, nil
}

type NotificationRepo struct {
	mu      sync.RWMutex
	byDedup map[string]domain.Notification
}

func NewNotificationRepo() *NotificationRepo {
	return &NotificationRepo{byDedup: map[string]domain.Notification{}}
}

func (r *NotificationRepo) CreateIfAbsent(_ context.Context, n domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.byDedup[n.DedupKey]; seen {
		return false, nil
	}
	r.byDedup[n.DedupKey] = n
	return true, nil
}

func (r *NotificationRepo) All() []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Notification, 0, len(r.byDedup))
	for _, n := range r.byDedup {
		out = append(out, n)
	}
	return out
}

type ScheduleRepo struct {
	mu      sync.RWMutex
	Entries []domain.RenewalSchedule
}

func NewScheduleRepo() *ScheduleRepo { return &ScheduleRepo{} }

func (r *ScheduleRepo) Create(_ context.Context, s domain.RenewalSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, s)
	return nil
}

func (r *ScheduleRepo) MarkNotified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Entries {
		if r.Entries[i].ConsentArtifactID == id {
			r.Entries[i].NotificationSent = true
			return nil
		}
	}
	return fmt.Errorf("%w: schedule for artifact %s", domain.ErrNotFound, id)
}

type CollectionPointRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.CollectionPoint
}

func NewCollectionPointRepo() *CollectionPointRepo {
	return &CollectionPointRepo{byID: map[string]domain.CollectionPoint{}}
}

func (r *CollectionPointRepo) Put(cp domain.CollectionPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[cp.CPID] = cp
}

func (r *CollectionPointRepo) Get(_ context.Context, cpID string) (domain.CollectionPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.byID[cpID]
	if !ok {
		return domain.CollectionPoint{}, fmt.Errorf("%w: collection point %s", domain.ErrNotFound, cpID)
	}
	return cp, nil
}

type BlobStore struct {
	mu   sync.RWMutex
	byKey map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{byKey: map[string][]byte{}}
}

func (s *BlobStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.byKey[key] = buf
	return nil
}

func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
	}
	return data, nil
}

type sessionEntry struct {
	value     string
	expiresAt time.Time
}

// SessionStore is the in-memory counterpart of the Redis session store. TTLs
// are honored lazily on read.
type SessionStore struct {
	mu       sync.Mutex
	otps     map[string]domain.OTPSession
	otpExp   map[string]time.Time
	entries  map[string]sessionEntry
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		otps:    map[string]domain.OTPSession{},
		otpExp:  map[string]time.Time{},
		entries: map[string]sessionEntry{},
	}
}

func (s *SessionStore) PutOTP(_ context.Context, key domain.SessionKey, sess domain.OTPSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[key.String()] = sess
	s.otpExp[key.String()] = time.Now().Add(ttl)
	return nil
}

func (s *SessionStore) GetOTP(_ context.Context, key domain.SessionKey) (domain.OTPSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.otps[key.String()]
	if !ok || time.Now().After(s.otpExp[key.String()]) {
		return domain.OTPSession{}, fmt.Errorf("%w: otp session", domain.ErrNotFound)
	}
	return sess, nil
}

func (s *SessionStore) UpdateOTP(_ context.Context, key domain.SessionKey, sess domain.OTPSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.otps[key.String()]; !ok {
		return fmt.Errorf("%w: otp session", domain.ErrNotFound)
	}
	s.otps[key.String()] = sess
	return nil
}

func (s *SessionStore) DeleteOTP(_ context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.otps, key.String())
	delete(s.otpExp, key.String())
	return nil
}

func (s *SessionStore) SetVerified(_ context.Context, key domain.SessionKey, ttl time.Duration) error {
	s.set("v:"+key.String(), "1", ttl)
	return nil
}

func (s *SessionStore) IsVerified(_ context.Context, key domain.SessionKey) (bool, error) {
	_, ok := s.get("v:" + key.String())
	return ok, nil
}

func (s *SessionStore) SetPendingAgreement(_ context.Context, key domain.SessionKey, agreementID string, ttl time.Duration) error {
	s.set("p:"+key.String(), agreementID, ttl)
	return nil
}

func (s *SessionStore) GetPendingAgreement(_ context.Context, key domain.SessionKey) (string, error) {
	id, ok := s.get("p:" + key.String())
	if !ok {
		return "", fmt.Errorf("%w: pending agreement", domain.ErrNotFound)
	}
	return id, nil
}

func (s *SessionStore) ConsumePendingAgreement(_ context.Context, key domain.SessionKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := "p:" + key.String()
	entry, ok := s.entries[k]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", fmt.Errorf("%w: pending agreement", domain.ErrNotFound)
	}
	delete(s.entries, k)
	return entry.value, nil
}

func (s *SessionStore) ExtendSession(_ context.Context, key domain.SessionKey, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := "p:" + key.String()
	if entry, ok := s.entries[k]; ok {
		entry.expiresAt = time.Now().Add(ttl)
		s.entries[k] = entry
	}
	return nil
}

func (s *SessionStore) set(k, v string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = sessionEntry{value: v, expiresAt: time.Now().Add(ttl)}
}

func (s *SessionStore) get(k string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[k]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}
