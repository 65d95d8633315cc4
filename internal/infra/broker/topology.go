package broker

import (
	"context"
	"time"
)

// Exchange and queue names of the consent pipeline. These are wire-visible
// identifiers; renaming any of them is a breaking change for operators.
const (
	ConsentEventsExchange          = "consent_events_exchange"
	ConsentRetryExchange           = "consent_retry_exchange"
	ConsentDLQExchange             = "consent_dlq_exchange"
	ConsentProcessingRetryExchange = "consent_processing_retry_exchange"
	ConsentProcessingDLQExchange   = "consent_processing_dlq_exchange"
	ConsentExpiryExchange          = "consent_expiry_exchange"
	DataExpiryExchange             = "data_expiry_exchange"
	WebhookExchange                = "webhook_exchange"
	RetryExchange                  = "retry_exchange"
	DLQExchange                    = "dlq_exchange"

	WebhookMainQueue  = "webhook_main"
	WebhookRetryQueue = "webhook_retry"
	WebhookDLQQueue   = "webhook_dlq"

	ConsentEventsQueue = "consent_events_q"
	ConsentRetryQueue  = "consent_retry_q"
	ConsentDLQQueue    = "consent_dlq"

	ConsentProcessingQueue      = "consent_processing_q"
	ConsentProcessingRetryQueue = "consent_processing_retry_q"
	ConsentProcessingDLQQueue   = "consent_processing_dlq"

	ConsentExpiryDelayQueue = "consent_expiry_delay_queue"
	ConsentExpiryQueue      = "consent_expiry_queue"
	DataExpiryDelayQueue    = "data_expiry_delay_queue"
	DataExpiryQueue         = "data_expiry_queue"

	BulkVerificationQueue = "consent_bulk_external_verification"

	ConsentEventsKey     = "consent_events"
	ConsentRetryKey      = "consent_retry"
	ConsentDLQKey        = "consent_dlq"
	WebhookMainKey       = "webhook_main"
	WebhookRetryKey      = "webhook_retry"
	WebhookDLQKey        = "webhook_dlq"
	ConsentExpiryKey     = "consent_expiry"
	DataExpiryKey        = "data_expiry"
	ProcessingRetryKey   = "consent_processing_retry"
	ProcessingDLQKey     = "consent_processing_dlq"
)

// TopologyConfig carries the tunable TTLs of the retry queues.
type TopologyConfig struct {
	WebhookRetryTTL    time.Duration
	ConsentRetryTTL    time.Duration
	ProcessingRetryTTL time.Duration
}

func (c TopologyConfig) withDefaults() TopologyConfig {
	if c.WebhookRetryTTL <= 0 {
		c.WebhookRetryTTL = 10 * time.Second
	}
	if c.ConsentRetryTTL <= 0 {
		c.ConsentRetryTTL = 10 * time.Second
	}
	if c.ProcessingRetryTTL <= 0 {
		c.ProcessingRetryTTL = 5 * time.Second
	}
	return c
}

// DeclareTopology declares every exchange, queue and binding of the consent
// pipeline. It owns no state and is safe to re-run: declarations write the
// same values every time.
func DeclareTopology(ctx context.Context, b *Broker, cfg TopologyConfig) error {
	cfg = cfg.withDefaults()

	exchanges := []string{
		ConsentEventsExchange, ConsentRetryExchange, ConsentDLQExchange,
		ConsentProcessingRetryExchange, ConsentProcessingDLQExchange,
		ConsentExpiryExchange, DataExpiryExchange,
		WebhookExchange, RetryExchange, DLQExchange,
	}
	for _, ex := range exchanges {
		if err := b.DeclareExchange(ctx, ex); err != nil {
			return err
		}
	}

	queues := []QueueSpec{
		// Webhook triad: main -> retry (fixed TTL) -> back to main; terminal DLQ.
		{Name: WebhookMainQueue, DLX: RetryExchange, DLKey: WebhookRetryKey},
		{Name: WebhookRetryQueue, MessageTTL: cfg.WebhookRetryTTL, DLX: WebhookExchange, DLKey: WebhookMainKey},
		{Name: WebhookDLQQueue},

		// Consent-events triad.
		{Name: ConsentEventsQueue, DLX: ConsentRetryExchange, DLKey: ConsentRetryKey},
		{Name: ConsentRetryQueue, MessageTTL: cfg.ConsentRetryTTL, DLX: ConsentEventsExchange, DLKey: ConsentEventsKey},
		{Name: ConsentDLQQueue},

		// Consent-processing triad (artifact promotion work).
		{Name: ConsentProcessingQueue, DLX: ConsentProcessingRetryExchange, DLKey: ProcessingRetryKey},
		{Name: ConsentProcessingRetryQueue, MessageTTL: cfg.ProcessingRetryTTL, DLX: "", DLKey: ConsentProcessingQueue},
		{Name: ConsentProcessingDLQQueue},

		// Time-triggered delay pattern: per-message TTL, then DLX to the
		// terminal queue whose consumer re-checks artifact state.
		{Name: ConsentExpiryDelayQueue, DelayPerMessage: true, DLX: ConsentExpiryExchange, DLKey: ConsentExpiryKey},
		{Name: ConsentExpiryQueue},
		{Name: DataExpiryDelayQueue, DelayPerMessage: true, DLX: DataExpiryExchange, DLKey: DataExpiryKey},
		{Name: DataExpiryQueue},

		{Name: BulkVerificationQueue},
	}
	for _, q := range queues {
		if err := b.DeclareQueue(ctx, q); err != nil {
			return err
		}
	}

	bindings := []struct{ exchange, key, queue string }{
		{WebhookExchange, WebhookMainKey, WebhookMainQueue},
		{RetryExchange, WebhookRetryKey, WebhookRetryQueue},
		{DLQExchange, WebhookDLQKey, WebhookDLQQueue},

		{ConsentEventsExchange, ConsentEventsKey, ConsentEventsQueue},
		{ConsentRetryExchange, ConsentRetryKey, ConsentRetryQueue},
		{ConsentDLQExchange, ConsentDLQKey, ConsentDLQQueue},

		{ConsentProcessingRetryExchange, ProcessingRetryKey, ConsentProcessingRetryQueue},
		{ConsentProcessingDLQExchange, ProcessingDLQKey, ConsentProcessingDLQQueue},

		{ConsentExpiryExchange, ConsentExpiryKey, ConsentExpiryQueue},
		{DataExpiryExchange, DataExpiryKey, DataExpiryQueue},
	}
	for _, bd := range bindings {
		if err := b.Bind(ctx, bd.exchange, bd.key, bd.queue); err != nil {
			return err
		}
	}
	return nil
}
