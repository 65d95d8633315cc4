package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string
	Env      string

	// Relational store. The document payloads (artifact bodies, event
	// payloads) live in jsonb columns of the same store.
	PostgresDSN string

	// Broker + session store.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	BrokerPoolSize    int
	Prefetch          int
	WebhookRetryTTLMS int
	ConsentRetryTTLMS int
	ProcessingRetryTTLMS int
	MaxRetries        int

	// Object store (bulk verification files).
	ObjectStoreEndpoint string
	ObjectStoreRegion   string
	BulkFilesBucket     string

	// Security.
	JWTSecret      string
	JWTAlgorithm   string
	OTPLength      int
	OTPMaxAttempts int
	OTPTTL         time.Duration
	SessionTTL     time.Duration
	PendingAgreementTTL time.Duration
	DFCallbackSkew time.Duration

	// External verification API credentials.
	APIKey    string
	APISecret string

	AdminAPIKey string

	// Audit chain signing.
	ECDSAPrivateKeyPEM string
	ECDSAKeyID         string

	// DF callback HMAC secret (dp-verification-ack / consent-ack).
	DFSignatureSecret string

	// Portal URLs returned after OTP verification. Empty when no consent
	// portal fronts the API.
	RedirectionURL string
	FallbackURL    string

	RateLimitRequests      int
	RateLimitWindowSeconds int

	WebhookTimeout time.Duration
}

func FromEnv() Config {
	return Config{
		HTTPAddr:             envDefault("HTTP_ADDR", ":8080"),
		Env:                  envDefault("CONSENT_ENV", "development"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              envIntDefault("REDIS_DB", 0),
		BrokerPoolSize:       envIntDefault("BROKER_POOL_SIZE", 5),
		Prefetch:             envIntDefault("BROKER_PREFETCH", 10),
		WebhookRetryTTLMS:    envIntDefault("WEBHOOK_RETRY_TTL_MS", 10000),
		ConsentRetryTTLMS:    envIntDefault("CONSENT_RETRY_TTL_MS", 10000),
		ProcessingRetryTTLMS: envIntDefault("CONSENT_PROCESSING_RETRY_TTL_MS", 5000),
		MaxRetries:           envIntDefault("BROKER_MAX_RETRIES", 3),
		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_URI"),
		ObjectStoreRegion:    envDefault("OBJECT_STORE_REGION", "us-east-1"),
		BulkFilesBucket:      envDefault("BULK_FILES_BUCKET", "consent-bulk-files"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTAlgorithm:         envDefault("JWT_ALGORITHM", "HS256"),
		OTPLength:            envIntDefault("OTP_LENGTH", 6),
		OTPMaxAttempts:       envIntDefault("OTP_MAX_ATTEMPTS", 5),
		OTPTTL:               time.Duration(envIntDefault("OTP_TTL_SEC", 300)) * time.Second,
		SessionTTL:           time.Duration(envIntDefault("SESSION_TTL_SEC", 900)) * time.Second,
		PendingAgreementTTL:  time.Duration(envIntDefault("PENDING_AGREEMENT_TTL_SEC", 86400)) * time.Second,
		DFCallbackSkew:       time.Duration(envIntDefault("DF_CALLBACK_SKEW_SEC", 300)) * time.Second,
		APIKey:               os.Getenv("EXTERNAL_API_KEY"),
		APISecret:            os.Getenv("EXTERNAL_API_SECRET"),
		AdminAPIKey:          os.Getenv("ADMIN_API_KEY"),
		ECDSAPrivateKeyPEM:   os.Getenv("ECDSA_PRIVATE_KEY_PEM"),
		ECDSAKeyID:           envDefault("ECDSA_KEY_ID", "audit-key-1"),
		DFSignatureSecret:    os.Getenv("DF_SIGNATURE_SECRET"),
		RedirectionURL:       os.Getenv("CONSENT_REDIRECT_URL"),
		FallbackURL:          os.Getenv("CONSENT_FALLBACK_URL"),
		RateLimitRequests:    envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		WebhookTimeout:       time.Duration(envIntDefault("WEBHOOK_TIMEOUT_SEC", 10)) * time.Second,
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
