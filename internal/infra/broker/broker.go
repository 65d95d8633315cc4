// Package broker implements the consent-event queue topology on Redis with
// RabbitMQ-equivalent semantics: durable main queues backed by lists,
// TTL-then-dead-letter forwarding backed by a sorted set of fire times, and
// per-queue dead-letter routing. Consumers move messages to a per-queue
// unacked list on receipt; ack removes the entry, nack dead-letters it.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the broker envelope. Body is UTF-8 JSON. Expiration is the
// per-message TTL in milliseconds, as a string, honored only by delay
// queues. XDeath counts dead-letter transitions, mirroring the x-death
// header consumers use to learn the attempt count.
type Message struct {
	MessageID     string          `json:"message_id"`
	Body          json.RawMessage `json:"body"`
	XDeath        int             `json:"x_death,omitempty"`
	Expiration    string          `json:"expiration,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
}

// QueueSpec declares one queue. A queue with MessageTTL set holds every
// message for that long before dead-lettering it; a queue with
// DelayPerMessage honors each message's Expiration instead. Either way the
// message leaves through the DLX binding.
type QueueSpec struct {
	Name            string        `json:"name"`
	DLX             string        `json:"dlx,omitempty"`
	DLKey           string        `json:"dl_key,omitempty"`
	MessageTTL      time.Duration `json:"message_ttl,omitempty"`
	DelayPerMessage bool          `json:"delay_per_message,omitempty"`
}

type Broker struct {
	client *redis.Client

	mu       sync.RWMutex
	queues   map[string]QueueSpec
	bindings map[string]map[string]string
}

func New(addr, password string, db, poolSize int) *Broker {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return NewWithClient(client)
}

func NewWithClient(client *redis.Client) *Broker {
	return &Broker{
		client:   client,
		queues:   map[string]QueueSpec{},
		bindings: map[string]map[string]string{},
	}
}

func (b *Broker) Close() error { return b.client.Close() }

func readyKey(queue string) string     { return "cq:" + queue }
func unackedKey(queue string) string   { return "cq:" + queue + ":unacked" }
func scheduledKey(queue string) string { return "cq:" + queue + ":scheduled" }

// DeclareExchange records the exchange. Declarations are idempotent.
func (b *Broker) DeclareExchange(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("exchange name required")
	}
	if err := b.client.HSet(ctx, "cq:topology:exchanges", name, 1).Err(); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	b.mu.Lock()
	if _, ok := b.bindings[name]; !ok {
		b.bindings[name] = map[string]string{}
	}
	b.mu.Unlock()
	return nil
}

func (b *Broker) DeclareQueue(ctx context.Context, spec QueueSpec) error {
	if spec.Name == "" {
		return errors.New("queue name required")
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := b.client.HSet(ctx, "cq:topology:queues", spec.Name, raw).Err(); err != nil {
		return fmt.Errorf("declare queue %s: %w", spec.Name, err)
	}
	b.mu.Lock()
	b.queues[spec.Name] = spec
	b.mu.Unlock()
	return nil
}

func (b *Broker) Bind(ctx context.Context, exchange, routingKey, queue string) error {
	if exchange == "" || routingKey == "" || queue == "" {
		return errors.New("exchange, routing key and queue required")
	}
	if err := b.client.HSet(ctx, "cq:topology:bindings:"+exchange, routingKey, queue).Err(); err != nil {
		return fmt.Errorf("bind %s/%s -> %s: %w", exchange, routingKey, queue, err)
	}
	b.mu.Lock()
	if _, ok := b.bindings[exchange]; !ok {
		b.bindings[exchange] = map[string]string{}
	}
	b.bindings[exchange][routingKey] = queue
	b.mu.Unlock()
	return nil
}

// route resolves an (exchange, routing key) pair to a declared queue. The
// empty exchange routes directly to the queue named by the key, like the
// AMQP default exchange.
func (b *Broker) route(exchange, routingKey string) (QueueSpec, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if exchange == "" {
		spec, ok := b.queues[routingKey]
		if !ok {
			return QueueSpec{}, fmt.Errorf("unknown queue %q", routingKey)
		}
		return spec, nil
	}
	keys, ok := b.bindings[exchange]
	if !ok {
		return QueueSpec{}, fmt.Errorf("unknown exchange %q", exchange)
	}
	queue, ok := keys[routingKey]
	if !ok {
		return QueueSpec{}, fmt.Errorf("no binding for %s/%s", exchange, routingKey)
	}
	spec, ok := b.queues[queue]
	if !ok {
		return QueueSpec{}, fmt.Errorf("bound queue %q not declared", queue)
	}
	return spec, nil
}

// Publish routes a JSON body through the exchange to its bound queue.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	return b.publish(ctx, exchange, routingKey, body, Message{})
}

// PublishDelayed publishes with a per-message TTL, for delay queues.
func (b *Broker) PublishDelayed(ctx context.Context, exchange, routingKey string, body any, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return b.publish(ctx, exchange, routingKey, body, Message{
		Expiration: strconv.FormatInt(delay.Milliseconds(), 10),
	})
}

func (b *Broker) publish(ctx context.Context, exchange, routingKey string, body any, template Message) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message body: %w", err)
	}
	msg := template
	msg.Body = raw
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.PublishedAt = time.Now().UTC()
	return b.publishMessage(ctx, exchange, routingKey, msg)
}

func (b *Broker) publishMessage(ctx context.Context, exchange, routingKey string, msg Message) error {
	spec, err := b.route(exchange, routingKey)
	if err != nil {
		return err
	}
	return b.deliver(ctx, spec, msg)
}

func (b *Broker) deliver(ctx context.Context, spec QueueSpec, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	switch {
	case spec.MessageTTL > 0:
		due := time.Now().Add(spec.MessageTTL).UnixMilli()
		return b.client.ZAdd(ctx, scheduledKey(spec.Name), redis.Z{Score: float64(due), Member: raw}).Err()
	case spec.DelayPerMessage && msg.Expiration != "":
		ms, err := strconv.ParseInt(msg.Expiration, 10, 64)
		if err != nil || ms < 0 {
			ms = 0
		}
		due := time.Now().UnixMilli() + ms
		return b.client.ZAdd(ctx, scheduledKey(spec.Name), redis.Z{Score: float64(due), Member: raw}).Err()
	default:
		return b.client.LPush(ctx, readyKey(spec.Name), raw).Err()
	}
}

// Reply publishes an RPC response onto the caller's reply list.
func (b *Broker) Reply(ctx context.Context, replyTo, correlationID string, body any) error {
	if replyTo == "" {
		return errors.New("reply_to required")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := Message{
		MessageID:     uuid.NewString(),
		Body:          raw,
		CorrelationID: correlationID,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, replyTo, encoded)
	pipe.Expire(ctx, replyTo, 2*time.Minute)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishAndWait performs an RPC-style publish: the message carries a fresh
// reply list and correlation id, and the call blocks until a correlated
// response arrives or the timeout elapses.
func (b *Broker) PublishAndWait(ctx context.Context, exchange, routingKey string, body any, timeout time.Duration) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	correlationID := uuid.NewString()
	replyTo := "cq:reply:" + correlationID
	msg := Message{
		MessageID:     uuid.NewString(),
		Body:          raw,
		ReplyTo:       replyTo,
		CorrelationID: correlationID,
		PublishedAt:   time.Now().UTC(),
	}
	if err := b.publishMessage(ctx, exchange, routingKey, msg); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		res, err := b.client.BRPop(ctx, remaining, replyTo).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
		var reply Message
		if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		if reply.CorrelationID != correlationID {
			// Stale response on a reused list; keep waiting.
			continue
		}
		return reply.Body, nil
	}
}

// Delivery is one consumed message. Exactly one of Ack or Nack must be the
// last action of every handler path.
type Delivery struct {
	Message Message

	queue string
	raw   string
	b     *Broker
	done  bool
}

// AttemptCount is how many dead-letter transitions the message has made,
// i.e. how many delivery attempts preceded this one.
func (d *Delivery) AttemptCount() int { return d.Message.XDeath }

func (d *Delivery) Ack(ctx context.Context) error {
	if d.done {
		return nil
	}
	d.done = true
	return d.b.client.LRem(ctx, unackedKey(d.queue), 1, d.raw).Err()
}

// Nack removes the message from the unacked list. With requeue=false it is
// dead-lettered through the queue's DLX with x-death incremented; with
// requeue=true it returns to the ready list unchanged.
func (d *Delivery) Nack(ctx context.Context, requeue bool) error {
	if d.done {
		return nil
	}
	d.done = true
	if err := d.b.client.LRem(ctx, unackedKey(d.queue), 1, d.raw).Err(); err != nil {
		return err
	}
	if requeue {
		return d.b.client.LPush(ctx, readyKey(d.queue), d.raw).Err()
	}
	spec, err := d.b.route("", d.queue)
	if err != nil {
		return err
	}
	if spec.DLX == "" && spec.DLKey == "" {
		log.Printf("broker: dropping message %s from %s (no DLX)", d.Message.MessageID, d.queue)
		return nil
	}
	msg := d.Message
	msg.XDeath++
	return d.b.publishMessage(ctx, spec.DLX, spec.DLKey, msg)
}

// Consume runs a single-threaded consumer loop over the queue until the
// context is canceled. The handler owns the ack/nack of every delivery.
func (b *Broker) Consume(ctx context.Context, queue string, handler func(ctx context.Context, d *Delivery)) error {
	if _, err := b.route("", queue); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := b.client.BLMove(ctx, readyKey(queue), unackedKey(queue), "RIGHT", "LEFT", 5*time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("broker: consume %s: %v", queue, err)
			time.Sleep(time.Second)
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			log.Printf("broker: dropping undecodable message on %s: %v", queue, err)
			b.client.LRem(ctx, unackedKey(queue), 1, raw)
			continue
		}
		handler(ctx, &Delivery{Message: msg, queue: queue, raw: raw, b: b})
	}
}

// RecoverUnacked moves stranded unacked messages back to the ready list.
// Called at worker startup to pick up work lost by a crashed predecessor.
func (b *Broker) RecoverUnacked(ctx context.Context, queue string) (int, error) {
	n := 0
	for {
		raw, err := b.client.RPopLPush(ctx, unackedKey(queue), readyKey(queue)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return n, nil
			}
			return n, err
		}
		_ = raw
		n++
	}
}
