package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
)

// OTPService owns the OTP lifecycle: issue, verify with attempt caps, and
// the pending-agreement consumption that promotes an artifact once the data
// principal is verified.
type OTPService struct {
	Sessions    SessionStore
	Publisher   Publisher
	OTPLength   int
	MaxAttempts int
	OTPTTL      time.Duration
	SessionTTL  time.Duration
}

func (s *OTPService) otpLength() int {
	if s.OTPLength <= 0 {
		return 6
	}
	return s.OTPLength
}

func (s *OTPService) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return 5
	}
	return s.MaxAttempts
}

func (s *OTPService) otpTTL() time.Duration {
	if s.OTPTTL <= 0 {
		return 5 * time.Minute
	}
	return s.OTPTTL
}

func (s *OTPService) sessionTTL() time.Duration {
	if s.SessionTTL <= 0 {
		return 15 * time.Minute
	}
	return s.SessionTTL
}

// Issue generates a fresh OTP from a cryptographic RNG and stores it with
// zeroed attempts. Issuing over an existing session replaces it (resend).
func (s *OTPService) Issue(ctx context.Context, key domain.SessionKey) (string, error) {
	otp, err := generateOTP(s.otpLength())
	if err != nil {
		return "", err
	}
	sess := domain.OTPSession{OTP: otp}
	if err := s.Sessions.PutOTP(ctx, key, sess, s.otpTTL()); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return otp, nil
}

// Verify checks the submitted OTP. On success it consumes the pending
// agreement and publishes the promotion event; the returned agreement id is
// the artifact being published.
//
// The attempt counter is a read-modify-write under the session TTL: two
// concurrent wrong guesses may count as one. That lost increment is
// accepted, which is why the lock threshold is >= max rather than equality.
func (s *OTPService) Verify(ctx context.Context, key domain.SessionKey, input string) (string, error) {
	sess, err := s.Sessions.GetOTP(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return "", domain.ErrOTPExpired
		}
		return "", err
	}
	if sess.Locked {
		return "", domain.ErrOTPLocked
	}
	if !validOTPFormat(input, s.otpLength()) {
		return "", domain.ErrOTPFormat
	}
	if subtle.ConstantTimeCompare([]byte(sess.OTP), []byte(input)) != 1 {
		sess.Attempts++
		if sess.Attempts >= s.maxAttempts() {
			sess.Locked = true
		}
		if err := s.Sessions.UpdateOTP(ctx, key, sess); err != nil {
			return "", err
		}
		return "", domain.ErrOTPMismatch
	}

	if err := s.Sessions.DeleteOTP(ctx, key); err != nil {
		return "", err
	}
	if err := s.Sessions.ExtendSession(ctx, key, s.sessionTTL()); err != nil {
		return "", err
	}
	if err := s.Sessions.SetVerified(ctx, key, s.sessionTTL()); err != nil {
		return "", err
	}
	return s.ReleasePendingAgreement(ctx, key)
}

// ReleasePendingAgreement consumes the pending-agreement indirection and
// publishes the promotion event onto the processing queue. The DF-ACK path
// calls this directly, without an OTP.
func (s *OTPService) ReleasePendingAgreement(ctx context.Context, key domain.SessionKey) (string, error) {
	agreementID, err := s.Sessions.ConsumePendingAgreement(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: no pending agreement", domain.ErrNotFound)
		}
		return "", err
	}
	event := domain.ConsentEvent{
		EventType:   domain.EventOTPVerification,
		DFID:        key.DFID,
		DPID:        key.DPID,
		AgreementID: agreementID,
	}
	if err := s.Publisher.Publish(ctx, "", broker.ConsentProcessingQueue, event); err != nil {
		return "", fmt.Errorf("publish promotion: %w", err)
	}
	return agreementID, nil
}

func validOTPFormat(input string, length int) bool {
	if len(input) != length {
		return false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generateOTP(length int) (string, error) {
	max := big.NewInt(10)
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
