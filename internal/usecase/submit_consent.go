package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

const versionRetryLimit = 5

type SubmitConsentRequest struct {
	NoticeToken string
	Selected    []SelectedPair
	IP          string
	Headers     map[string]string
	Email       string
	Mobile      string
	Residency   string
	DPSystemID  string
}

type SubmitConsentResponse struct {
	Status      string `json:"status"`
	AgreementID string `json:"agreement_id,omitempty"`
	Verified    bool   `json:"verified"`
}

const (
	StatusAwaitingVerification = "awaiting_verification"
	StatusSubmitted            = "submitted"
)

// SubmitConsent validates the notice token, builds and persists the pending
// artifact, and either starts OTP verification or promotes immediately.
type SubmitConsent struct {
	Tokens     NoticeTokenVerifier
	Builder    *ArtifactBuilder
	Artifacts  ArtifactRepository
	Sessions   SessionStore
	OTP        *OTPService
	PendingTTL time.Duration
	// OTPSender delivers the generated OTP out of band (SMS/email); nil in
	// environments where delivery is handled elsewhere.
	OTPSender func(ctx context.Context, claims domain.NoticeClaims, otp string)
}

func (s *SubmitConsent) pendingTTL() time.Duration {
	if s.PendingTTL <= 0 {
		return 24 * time.Hour
	}
	return s.PendingTTL
}

func (s *SubmitConsent) Execute(ctx context.Context, req SubmitConsentRequest) (SubmitConsentResponse, error) {
	claims, err := s.Tokens.Decode(req.NoticeToken)
	if err != nil {
		return SubmitConsentResponse{}, fmt.Errorf("%w: %v", domain.ErrNoticeTokenInvalid, err)
	}
	key := domain.SessionKey{DFID: claims.DFID, DPID: claims.DPID, RequestID: claims.RequestID}

	// Re-submission with the same request_id within the session TTL must
	// not create a second pending artifact.
	if existing, err := s.Sessions.GetPendingAgreement(ctx, key); err == nil && existing != "" {
		return s.respond(claims, existing), nil
	}

	artifact, err := s.buildWithRetry(ctx, NoticeSubmission{
		DFID:           claims.DFID,
		CPID:           claims.CPID,
		DPID:           claims.DPID,
		DPSystemID:     req.DPSystemID,
		Residency:      req.Residency,
		Email:          req.Email,
		Mobile:         req.Mobile,
		IP:             req.IP,
		RequestHeaders: req.Headers,
		Selected:       req.Selected,
		Verified:       !claims.IsVerificationRequired,
	})
	if err != nil {
		return SubmitConsentResponse{}, err
	}

	if err := s.Sessions.SetPendingAgreement(ctx, key, artifact.AgreementID, s.pendingTTL()); err != nil {
		return SubmitConsentResponse{}, fmt.Errorf("store pending agreement: %w", err)
	}

	if claims.IsVerificationRequired {
		otp, err := s.OTP.Issue(ctx, key)
		if err != nil {
			return SubmitConsentResponse{}, err
		}
		if s.OTPSender != nil {
			s.OTPSender(ctx, claims, otp)
		}
		return s.respond(claims, artifact.AgreementID), nil
	}

	// Verification bypass: promote right away through the same
	// pending-agreement indirection the OTP path uses.
	if _, err := s.OTP.ReleasePendingAgreement(ctx, key); err != nil {
		return SubmitConsentResponse{}, err
	}
	return s.respond(claims, artifact.AgreementID), nil
}

func (s *SubmitConsent) respond(claims domain.NoticeClaims, agreementID string) SubmitConsentResponse {
	if claims.IsVerificationRequired {
		return SubmitConsentResponse{Status: StatusAwaitingVerification, AgreementID: agreementID}
	}
	return SubmitConsentResponse{Status: StatusSubmitted, AgreementID: agreementID, Verified: true}
}

// buildWithRetry retries the optimistic (dp_id, cp_id, version) slot claim a
// bounded number of times so a concurrent submission cannot livelock us.
func (s *SubmitConsent) buildWithRetry(ctx context.Context, sub NoticeSubmission) (domain.ConsentArtifact, error) {
	var lastErr error
	for attempt := 0; attempt < versionRetryLimit; attempt++ {
		artifact, err := s.Builder.Build(ctx, sub)
		if err != nil {
			return domain.ConsentArtifact{}, err
		}
		err = s.Artifacts.Create(ctx, artifact)
		if err == nil {
			return artifact, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.ConsentArtifact{}, err
		}
		lastErr = err
	}
	return domain.ConsentArtifact{}, fmt.Errorf("claim artifact version: %w", lastErr)
}
