// Package session holds the ephemeral OTP and verification state in Redis.
// Every key carries a TTL so abandoned sessions clean themselves up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func otpKey(k domain.SessionKey) string      { return "sess:" + k.String() + ":otp" }
func verifiedKey(k domain.SessionKey) string { return "sess:" + k.String() + ":verified" }
func pendingKey(k domain.SessionKey) string  { return "sess:" + k.String() + ":pending" }

func (s *Store) PutOTP(ctx context.Context, key domain.SessionKey, sess domain.OTPSession, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, otpKey(key), raw, ttl).Err()
}

func (s *Store) GetOTP(ctx context.Context, key domain.SessionKey) (domain.OTPSession, error) {
	raw, err := s.client.Get(ctx, otpKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OTPSession{}, fmt.Errorf("%w: otp session", domain.ErrNotFound)
		}
		return domain.OTPSession{}, err
	}
	var sess domain.OTPSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.OTPSession{}, fmt.Errorf("decode otp session: %w", err)
	}
	return sess, nil
}

// UpdateOTP rewrites the session value while preserving whatever TTL is
// left, so failed attempts never extend the OTP window.
func (s *Store) UpdateOTP(ctx context.Context, key domain.SessionKey, sess domain.OTPSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	set, err := s.client.SetArgs(ctx, otpKey(key), raw, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: otp session", domain.ErrNotFound)
		}
		return err
	}
	if set == "" {
		return fmt.Errorf("%w: otp session", domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteOTP(ctx context.Context, key domain.SessionKey) error {
	return s.client.Del(ctx, otpKey(key)).Err()
}

func (s *Store) SetVerified(ctx context.Context, key domain.SessionKey, ttl time.Duration) error {
	return s.client.Set(ctx, verifiedKey(key), "1", ttl).Err()
}

func (s *Store) IsVerified(ctx context.Context, key domain.SessionKey) (bool, error) {
	_, err := s.client.Get(ctx, verifiedKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) SetPendingAgreement(ctx context.Context, key domain.SessionKey, agreementID string, ttl time.Duration) error {
	return s.client.Set(ctx, pendingKey(key), agreementID, ttl).Err()
}

func (s *Store) GetPendingAgreement(ctx context.Context, key domain.SessionKey) (string, error) {
	id, err := s.client.Get(ctx, pendingKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: pending agreement", domain.ErrNotFound)
		}
		return "", err
	}
	return id, nil
}

// ConsumePendingAgreement reads and deletes atomically. Two concurrent
// verifications of the same session can therefore promote at most once.
func (s *Store) ConsumePendingAgreement(ctx context.Context, key domain.SessionKey) (string, error) {
	id, err := s.client.GetDel(ctx, pendingKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: pending agreement", domain.ErrNotFound)
		}
		return "", err
	}
	return id, nil
}

// ExtendSession refreshes the TTL of the pending agreement so a verified
// principal has the full window to finish.
func (s *Store) ExtendSession(ctx context.Context, key domain.SessionKey, ttl time.Duration) error {
	return s.client.Expire(ctx, pendingKey(key), ttl).Err()
}
