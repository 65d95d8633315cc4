// Package app wires configuration, storage, broker and usecases into the
// object graph shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gawravmehta/sahaj-os-sub001/internal/config"
	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/db"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/objstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/ratelimit"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/session"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/token"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type App struct {
	Cfg    config.Config
	Store  *db.Store
	Broker *broker.Broker

	Submit     *usecase.SubmitConsent
	OTP        *usecase.OTPService
	Callbacks  *usecase.DFCallbacks
	Verifier   *usecase.ConsentVerifier
	Bulk       *usecase.BulkVerifier
	Audit      *usecase.AuditLog
	Webhooks   *usecase.WebhookManager
	Classifier *usecase.Classifier
	Deliverer  *usecase.WebhookDeliverer
	Promoter   *usecase.PromoteArtifact
	Expiry     *usecase.ExpiryFire

	Tokens      *token.Verifier
	Sessions    *session.Store
	RateLimiter domain.RateLimiter
}

func Build(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.BrokerPoolSize,
	})
	b := broker.NewWithClient(redisClient)
	if err := broker.DeclareTopology(ctx, b, broker.TopologyConfig{
		WebhookRetryTTL:    msDuration(cfg.WebhookRetryTTLMS),
		ConsentRetryTTL:    msDuration(cfg.ConsentRetryTTLMS),
		ProcessingRetryTTL: msDuration(cfg.ProcessingRetryTTLMS),
	}); err != nil {
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	var signer *cryptoinfra.Signer
	if cfg.ECDSAPrivateKeyPEM != "" {
		if signer, err = cryptoinfra.LoadSignerFromPEM(cfg.ECDSAPrivateKeyPEM, cfg.ECDSAKeyID); err != nil {
			return nil, fmt.Errorf("load audit signing key: %w", err)
		}
	} else {
		// Ephemeral key for development; production sets ECDSA_PRIVATE_KEY_PEM.
		if signer, err = cryptoinfra.GenerateSigner(cfg.ECDSAKeyID); err != nil {
			return nil, fmt.Errorf("generate audit signing key: %w", err)
		}
	}

	blobs, err := objstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	artifacts := db.NewArtifactRepository(store.DB)
	auditRepo := db.NewAuditRepository(store.DB)
	subs := db.NewSubscriptionRepository(store.DB)
	events := db.NewWebhookEventRepository(store.DB)
	logs := db.NewValidationLogRepository(store.DB)
	batches := db.NewBatchRepository(store.DB)
	notifications := db.NewNotificationRepository(store.DB)
	schedules := db.NewScheduleRepository(store.DB)
	collectionPoints := db.NewCollectionPointRepository(store.DB)

	sessions := session.New(redisClient)
	tokens := token.NewVerifier(cfg.JWTSecret, cfg.JWTAlgorithm)

	audit := &usecase.AuditLog{Repo: auditRepo, Signer: signer, Verifier: signer}
	projector := &usecase.NotificationProjector{
		Notifications: notifications,
		Artifacts:     artifacts,
		Schedules:     schedules,
	}
	verifier := &usecase.ConsentVerifier{
		Artifacts:     artifacts,
		Logs:          logs,
		Notifications: projector,
	}
	otp := &usecase.OTPService{
		Sessions:    sessions,
		Publisher:   b,
		OTPLength:   cfg.OTPLength,
		MaxAttempts: cfg.OTPMaxAttempts,
		OTPTTL:      cfg.OTPTTL,
		SessionTTL:  cfg.SessionTTL,
	}
	builder := &usecase.ArtifactBuilder{CollectionPoints: collectionPoints, Artifacts: artifacts}
	submit := &usecase.SubmitConsent{
		Tokens:     tokens,
		Builder:    builder,
		Artifacts:  artifacts,
		Sessions:   sessions,
		OTP:        otp,
		PendingTTL: cfg.PendingAgreementTTL,
	}
	scheduler := &usecase.ExpiryScheduler{Publisher: b, Schedules: schedules}
	bulk := &usecase.BulkVerifier{Verifier: verifier, Batches: batches, Blobs: blobs, Publisher: b}
	webhooks := &usecase.WebhookManager{Subscriptions: subs, Publisher: b}

	app := &App{
		Cfg:       cfg,
		Store:     store,
		Broker:    b,
		Submit:    submit,
		OTP:       otp,
		Callbacks: &usecase.DFCallbacks{OTP: otp, Sessions: sessions, Audit: audit, Notifications: projector},
		Verifier:  verifier,
		Bulk:      bulk,
		Audit:     audit,
		Webhooks:  webhooks,
		Classifier: &usecase.Classifier{
			Subscriptions: subs,
			Events:        events,
			Publisher:     b,
		},
		Deliverer: &usecase.WebhookDeliverer{
			Subscriptions: subs,
			Events:        events,
			Publisher:     b,
			Client:        &http.Client{Timeout: cfg.WebhookTimeout},
			MaxRetries:    cfg.MaxRetries,
		},
		Promoter: &usecase.PromoteArtifact{
			Artifacts: artifacts,
			Audit:     audit,
			Scheduler: scheduler,
			Publisher: b,
		},
		Expiry: &usecase.ExpiryFire{
			Artifacts:     artifacts,
			Publisher:     b,
			Notifications: projector,
		},
		Tokens:   tokens,
		Sessions: sessions,
	}
	if cfg.RateLimitRequests > 0 {
		app.RateLimiter = ratelimit.NewRedisLimiter(redisClient, nil)
	}
	return app, nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
