// Package brokermem is an in-memory Publisher for unit tests: published
// messages are recorded, and canned replies serve the RPC path.
package brokermem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Published struct {
	Exchange   string
	RoutingKey string
	Body       json.RawMessage
	Delay      time.Duration
}

type Publisher struct {
	mu        sync.Mutex
	published []Published
	replies   map[string]json.RawMessage

	// FailNext makes the next Publish call fail, for error-path tests.
	FailNext error
}

func New() *Publisher {
	return &Publisher{replies: map[string]json.RawMessage{}}
}

func (p *Publisher) Publish(_ context.Context, exchange, routingKey string, body any) error {
	return p.record(exchange, routingKey, body, 0)
}

func (p *Publisher) PublishDelayed(_ context.Context, exchange, routingKey string, body any, delay time.Duration) error {
	return p.record(exchange, routingKey, body, delay)
}

func (p *Publisher) record(exchange, routingKey string, body any, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.published = append(p.published, Published{Exchange: exchange, RoutingKey: routingKey, Body: raw, Delay: delay})
	return nil
}

// SetReply arms the RPC path: PublishAndWait on the given routing key
// returns this body.
func (p *Publisher) SetReply(routingKey string, body any) {
	raw, _ := json.Marshal(body)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[routingKey] = raw
}

func (p *Publisher) PublishAndWait(_ context.Context, exchange, routingKey string, body any, _ time.Duration) (json.RawMessage, error) {
	if err := p.record(exchange, routingKey, body, 0); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reply, ok := p.replies[routingKey]
	if !ok {
		return nil, fmt.Errorf("no reply armed for %s", routingKey)
	}
	return reply, nil
}

func (p *Publisher) Reply(_ context.Context, replyTo, _ string, body any) error {
	return p.record("", replyTo, body, 0)
}

// Messages returns everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.published))
	copy(out, p.published)
	return out
}

// To filters the published messages by routing key.
func (p *Publisher) To(routingKey string) []Published {
	var out []Published
	for _, msg := range p.Messages() {
		if msg.RoutingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}
