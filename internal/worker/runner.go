// Package worker runs the queue consumers of the consent pipeline: event
// classification, webhook delivery, artifact promotion, expiry firing and
// bulk verification.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type Runner struct {
	Broker     *broker.Broker
	Classifier *usecase.Classifier
	Deliverer  *usecase.WebhookDeliverer
	Promoter   *usecase.PromoteArtifact
	Expiry     *usecase.ExpiryFire
	Bulk       *usecase.BulkVerifier
	MaxRetries int
	Prefetch   int
}

func (r *Runner) maxRetries() int {
	if r.MaxRetries <= 0 {
		return 3
	}
	return r.MaxRetries
}

func (r *Runner) prefetch() int {
	if r.Prefetch <= 0 {
		return 1
	}
	return r.Prefetch
}

var consumedQueues = []string{
	broker.ConsentEventsQueue,
	broker.ConsentProcessingQueue,
	broker.WebhookMainQueue,
	broker.ConsentExpiryQueue,
	broker.DataExpiryQueue,
	broker.BulkVerificationQueue,
}

// Run recovers stranded messages, starts the scheduled-message mover and one
// consumer per queue, and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	for _, q := range consumedQueues {
		n, err := r.Broker.RecoverUnacked(ctx, q)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("worker: recovered %d unacked messages on %s", n, q)
		}
	}

	var wg sync.WaitGroup
	run := func(queue string, handler func(ctx context.Context, d *broker.Delivery)) {
		wg.Add(1)
		bounded := boundedHandler(&wg, r.prefetch(), handler)
		go func() {
			defer wg.Done()
			if err := r.Broker.Consume(ctx, queue, bounded); err != nil && ctx.Err() == nil {
				log.Printf("worker: consumer %s stopped: %v", queue, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Broker.RunMover(ctx, 0)
	}()

	run(broker.ConsentEventsQueue, r.handleConsentEvent)
	run(broker.ConsentProcessingQueue, r.handleProcessing)
	run(broker.WebhookMainQueue, r.handleWebhook)
	run(broker.ConsentExpiryQueue, r.handleExpiry)
	run(broker.DataExpiryQueue, r.handleExpiry)
	run(broker.BulkVerificationQueue, r.handleBulk)

	wg.Wait()
	return ctx.Err()
}

func (r *Runner) handleConsentEvent(ctx context.Context, d *broker.Delivery) {
	var event domain.ConsentEvent
	if err := json.Unmarshal(d.Message.Body, &event); err != nil {
		log.Printf("worker: undecodable consent event %s: %v", d.Message.MessageID, err)
		r.deadLetterAndAck(ctx, d, broker.ConsentDLQExchange, broker.ConsentDLQKey, err)
		return
	}
	if err := r.Classifier.Process(ctx, event); err != nil {
		r.retryOrDead(ctx, d, broker.ConsentDLQExchange, broker.ConsentDLQKey, err)
		return
	}
	r.ack(ctx, d)
}

func (r *Runner) handleProcessing(ctx context.Context, d *broker.Delivery) {
	var event domain.ConsentEvent
	if err := json.Unmarshal(d.Message.Body, &event); err != nil {
		log.Printf("worker: undecodable processing message %s: %v", d.Message.MessageID, err)
		r.deadLetterAndAck(ctx, d, broker.ConsentProcessingDLQExchange, broker.ProcessingDLQKey, err)
		return
	}
	if err := r.Promoter.Execute(ctx, event.AgreementID); err != nil {
		r.retryOrDead(ctx, d, broker.ConsentProcessingDLQExchange, broker.ProcessingDLQKey, err)
		return
	}
	r.ack(ctx, d)
}

func (r *Runner) handleWebhook(ctx context.Context, d *broker.Delivery) {
	var msg usecase.WebhookQueueMessage
	if err := json.Unmarshal(d.Message.Body, &msg); err != nil {
		log.Printf("worker: undecodable webhook message %s: %v", d.Message.MessageID, err)
		r.ack(ctx, d)
		return
	}
	decision := r.Deliverer.Handle(ctx, msg, d.AttemptCount(), d.Message.ReplyTo, d.Message.CorrelationID)
	switch decision {
	case usecase.DecisionRetry:
		if err := d.Nack(ctx, false); err != nil {
			log.Printf("worker: nack webhook %s: %v", d.Message.MessageID, err)
		}
	default:
		r.ack(ctx, d)
	}
}

// handleExpiry serves both expiry queues; the message body carries which
// boundary fired. Expiry handlers are idempotent, so a requeue after a
// transient failure is safe.
func (r *Runner) handleExpiry(ctx context.Context, d *broker.Delivery) {
	var msg usecase.ExpiryMessage
	if err := json.Unmarshal(d.Message.Body, &msg); err != nil {
		log.Printf("worker: undecodable expiry message %s: %v", d.Message.MessageID, err)
		r.ack(ctx, d)
		return
	}
	if err := r.Expiry.Handle(ctx, msg); err != nil {
		log.Printf("worker: expiry %s for artifact %s: %v", msg.EventType, msg.ArtifactID, err)
		time.Sleep(time.Second)
		if nerr := d.Nack(ctx, true); nerr != nil {
			log.Printf("worker: requeue expiry %s: %v", d.Message.MessageID, nerr)
		}
		return
	}
	r.ack(ctx, d)
}

func (r *Runner) handleBulk(ctx context.Context, d *broker.Delivery) {
	var sub usecase.BulkSubmission
	if err := json.Unmarshal(d.Message.Body, &sub); err != nil {
		log.Printf("worker: undecodable bulk message %s: %v", d.Message.MessageID, err)
		r.ack(ctx, d)
		return
	}
	if err := r.Bulk.Process(ctx, sub); err != nil {
		log.Printf("worker: bulk batch %s: %v", sub.BatchID, err)
		time.Sleep(time.Second)
		if nerr := d.Nack(ctx, true); nerr != nil {
			log.Printf("worker: requeue bulk %s: %v", d.Message.MessageID, nerr)
		}
		return
	}
	r.ack(ctx, d)
}

// retryOrDead routes a failed message back through its retry queue until the
// attempt budget is spent, then copies it to the DLQ and acks.
func (r *Runner) retryOrDead(ctx context.Context, d *broker.Delivery, dlx, dlqKey string, cause error) {
	if d.AttemptCount() >= r.maxRetries() {
		r.deadLetterAndAck(ctx, d, dlx, dlqKey, cause)
		return
	}
	log.Printf("worker: attempt %d failed for %s: %v", d.AttemptCount()+1, d.Message.MessageID, cause)
	if err := d.Nack(ctx, false); err != nil {
		log.Printf("worker: nack %s: %v", d.Message.MessageID, err)
	}
}

// deadLetterAndAck copies the message plus failure reason to the DLQ, then
// acks. The ack happens even when the DLQ write fails: blocking the queue is
// worse than losing the copy, so that failure is only logged.
func (r *Runner) deadLetterAndAck(ctx context.Context, d *broker.Delivery, dlx, dlqKey string, cause error) {
	entry := struct {
		Message broker.Message `json:"message"`
		Error   string         `json:"error"`
	}{Message: d.Message, Error: cause.Error()}
	if err := r.Broker.Publish(ctx, dlx, dlqKey, entry); err != nil {
		log.Printf("worker: DLQ write FAILED for %s (cause %q): %v", d.Message.MessageID, cause, err)
	}
	r.ack(ctx, d)
}

// boundedHandler runs each delivery in its own goroutine with at most n in
// flight, so one slow webhook endpoint cannot stall the whole queue. The
// consume loop blocks once n deliveries are unacked.
func boundedHandler(wg *sync.WaitGroup, n int, handler func(ctx context.Context, d *broker.Delivery)) func(ctx context.Context, d *broker.Delivery) {
	slots := make(chan struct{}, n)
	return func(ctx context.Context, d *broker.Delivery) {
		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			handler(ctx, d)
		}()
	}
}

func (r *Runner) ack(ctx context.Context, d *broker.Delivery) {
	if err := d.Ack(ctx); err != nil {
		log.Printf("worker: ack %s: %v", d.Message.MessageID, err)
	}
}
