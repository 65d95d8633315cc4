//go:build integration
// +build integration

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tests run against a dedicated Redis database and flush it between runs.
// Point REDIS_ADDR_TEST at a disposable instance.
func setupTestBroker(t *testing.T) *Broker {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR_TEST"))
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	b := NewWithClient(client)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type testPayload struct {
	Value string `json:"value"`
}

// declareWorkQueue declares a main queue dead-lettering into a terminal DLQ.
func declareWorkQueue(t *testing.T, b *Broker) {
	t.Helper()
	ctx := context.Background()
	if err := b.DeclareExchange(ctx, "it_dlx"); err != nil {
		t.Fatalf("declare exchange: %v", err)
	}
	if err := b.DeclareQueue(ctx, QueueSpec{Name: "it_main", DLX: "it_dlx", DLKey: "it_dead"}); err != nil {
		t.Fatalf("declare main: %v", err)
	}
	if err := b.DeclareQueue(ctx, QueueSpec{Name: "it_dlq"}); err != nil {
		t.Fatalf("declare dlq: %v", err)
	}
	if err := b.Bind(ctx, "it_dlx", "it_dead", "it_dlq"); err != nil {
		t.Fatalf("bind: %v", err)
	}
}

// consumeOne pulls a single delivery off the queue and stops the consumer
// loop. The delivery is returned un-acked; the caller decides its fate.
func consumeOne(t *testing.T, b *Broker, queue string) *Delivery {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan *Delivery, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, queue, func(ctx context.Context, d *Delivery) {
			select {
			case deliveries <- d:
			default:
			}
			cancel()
		})
	}()
	select {
	case d := <-deliveries:
		<-done
		return d
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatalf("no delivery on %s within 10s", queue)
		return nil
	}
}

func TestDeclareTopologyIsIdempotent(t *testing.T) {
	b := setupTestBroker(t)
	ctx := context.Background()
	if err := DeclareTopology(ctx, b, TopologyConfig{}); err != nil {
		t.Fatalf("first declare: %v", err)
	}
	if err := DeclareTopology(ctx, b, TopologyConfig{}); err != nil {
		t.Fatalf("second declare: %v", err)
	}
	if _, err := b.route(WebhookExchange, WebhookMainKey); err != nil {
		t.Fatalf("webhook binding unresolved: %v", err)
	}
}

func TestPublishConsumeAck(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)
	ctx := context.Background()

	if err := b.Publish(ctx, "", "it_main", testPayload{Value: "hello"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := consumeOne(t, b, "it_main")
	var got testPayload
	if err := json.Unmarshal(d.Message.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Value != "hello" {
		t.Fatalf("body %+v", got)
	}
	if d.AttemptCount() != 0 {
		t.Fatalf("fresh message has attempt count %d", d.AttemptCount())
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	for _, key := range []string{readyKey("it_main"), unackedKey("it_main")} {
		n, err := b.client.LLen(ctx, key).Result()
		if err != nil {
			t.Fatalf("llen %s: %v", key, err)
		}
		if n != 0 {
			t.Fatalf("%s still holds %d entries after ack", key, n)
		}
	}
}

func TestNackDeadLettersWithAttemptBump(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)
	ctx := context.Background()

	if err := b.Publish(ctx, "", "it_main", testPayload{Value: "poison"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d := consumeOne(t, b, "it_main")
	if err := d.Nack(ctx, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead := consumeOne(t, b, "it_dlq")
	if dead.Message.MessageID != d.Message.MessageID {
		t.Fatalf("dead-lettered id %s, want %s", dead.Message.MessageID, d.Message.MessageID)
	}
	if dead.AttemptCount() != 1 {
		t.Fatalf("attempt count %d after one dead-letter", dead.AttemptCount())
	}
	if err := dead.Ack(ctx); err != nil {
		t.Fatalf("ack dlq: %v", err)
	}

	if n, _ := b.client.LLen(ctx, unackedKey("it_main")).Result(); n != 0 {
		t.Fatalf("nacked message left on unacked list (%d)", n)
	}
}

func TestNackRequeueRedelivers(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)
	ctx := context.Background()

	if err := b.Publish(ctx, "", "it_main", testPayload{Value: "again"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	first := consumeOne(t, b, "it_main")
	if err := first.Nack(ctx, true); err != nil {
		t.Fatalf("nack requeue: %v", err)
	}

	second := consumeOne(t, b, "it_main")
	if second.Message.MessageID != first.Message.MessageID {
		t.Fatalf("redelivered id %s, want %s", second.Message.MessageID, first.Message.MessageID)
	}
	// Requeue does not count as a dead-letter transition.
	if second.AttemptCount() != 0 {
		t.Fatalf("attempt count %d after requeue", second.AttemptCount())
	}
	if err := second.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestNackWithoutDLXDrops(t *testing.T) {
	b := setupTestBroker(t)
	ctx := context.Background()
	if err := b.DeclareQueue(ctx, QueueSpec{Name: "it_bare"}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := b.Publish(ctx, "", "it_bare", testPayload{Value: "gone"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d := consumeOne(t, b, "it_bare")
	if err := d.Nack(ctx, false); err != nil {
		t.Fatalf("nack: %v", err)
	}
	for _, key := range []string{readyKey("it_bare"), unackedKey("it_bare")} {
		if n, _ := b.client.LLen(ctx, key).Result(); n != 0 {
			t.Fatalf("%s holds %d entries after drop", key, n)
		}
	}
}

func TestRecoverUnacked(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)
	ctx := context.Background()

	for _, v := range []string{"a", "b"} {
		if err := b.Publish(ctx, "", "it_main", testPayload{Value: v}); err != nil {
			t.Fatalf("publish %s: %v", v, err)
		}
	}
	// Consume both without acking, as a crashed worker would.
	consumeOne(t, b, "it_main")
	consumeOne(t, b, "it_main")
	if n, _ := b.client.LLen(ctx, unackedKey("it_main")).Result(); n != 2 {
		t.Fatalf("expected 2 stranded messages, got %d", n)
	}

	n, err := b.RecoverUnacked(ctx, "it_main")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered %d, want 2", n)
	}
	if ready, _ := b.client.LLen(ctx, readyKey("it_main")).Result(); ready != 2 {
		t.Fatalf("ready holds %d after recovery", ready)
	}
}

func TestPublishAndWaitRoundTrip(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = b.Consume(ctx, "it_main", func(ctx context.Context, d *Delivery) {
			_ = b.Reply(ctx, d.Message.ReplyTo, d.Message.CorrelationID, testPayload{Value: "pong"})
			_ = d.Ack(ctx)
		})
	}()

	raw, err := b.PublishAndWait(ctx, "", "it_main", testPayload{Value: "ping"}, 10*time.Second)
	if err != nil {
		t.Fatalf("publish and wait: %v", err)
	}
	var reply testPayload
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Value != "pong" {
		t.Fatalf("reply %+v", reply)
	}
}

func TestPublishAndWaitTimesOut(t *testing.T) {
	b := setupTestBroker(t)
	declareWorkQueue(t, b)

	_, err := b.PublishAndWait(context.Background(), "", "it_main", testPayload{Value: "ping"}, 300*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDelayedMessageFiresThroughMover(t *testing.T) {
	b := setupTestBroker(t)
	ctx := context.Background()
	if err := b.DeclareExchange(ctx, "it_expiry_x"); err != nil {
		t.Fatalf("declare exchange: %v", err)
	}
	if err := b.DeclareQueue(ctx, QueueSpec{Name: "it_delay", DelayPerMessage: true, DLX: "it_expiry_x", DLKey: "it_fire"}); err != nil {
		t.Fatalf("declare delay: %v", err)
	}
	if err := b.DeclareQueue(ctx, QueueSpec{Name: "it_fired"}); err != nil {
		t.Fatalf("declare fired: %v", err)
	}
	if err := b.Bind(ctx, "it_expiry_x", "it_fire", "it_fired"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := b.PublishDelayed(ctx, "", "it_delay", testPayload{Value: "later"}, 300*time.Millisecond); err != nil {
		t.Fatalf("publish delayed: %v", err)
	}
	if n, _ := b.client.ZCard(ctx, scheduledKey("it_delay")).Result(); n != 1 {
		t.Fatalf("scheduled set holds %d entries", n)
	}
	// Before the fire time nothing reaches the terminal queue.
	if n, _ := b.client.LLen(ctx, readyKey("it_fired")).Result(); n != 0 {
		t.Fatal("message forwarded before its fire time")
	}

	moverCtx, cancelMover := context.WithCancel(ctx)
	defer cancelMover()
	go b.RunMover(moverCtx, 50*time.Millisecond)

	d := consumeOne(t, b, "it_fired")
	var got testPayload
	if err := json.Unmarshal(d.Message.Body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Value != "later" {
		t.Fatalf("body %+v", got)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := b.client.ZCard(ctx, scheduledKey("it_delay")).Result(); n != 0 {
		t.Fatalf("scheduled set still holds %d entries", n)
	}
}
