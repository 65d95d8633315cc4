package usecase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/broker"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/brokermem"
	cryptoinfra "github.com/gawravmehta/sahaj-os-sub001/internal/infra/crypto"
	"github.com/gawravmehta/sahaj-os-sub001/internal/infra/memstore"
	"github.com/gawravmehta/sahaj-os-sub001/internal/usecase"
)

type deliveryFixture struct {
	deliverer *usecase.WebhookDeliverer
	subs      *memstore.SubscriptionRepo
	events    *memstore.WebhookEventRepo
	pub       *brokermem.Publisher
}

func newDeliveryFixture() *deliveryFixture {
	subs := memstore.NewSubscriptionRepo()
	events := memstore.NewWebhookEventRepo()
	pub := brokermem.New()
	return &deliveryFixture{
		deliverer: &usecase.WebhookDeliverer{
			Subscriptions: subs,
			Events:        events,
			Publisher:     pub,
			MaxRetries:    3,
		},
		subs:   subs,
		events: events,
		pub:    pub,
	}
}

func (f *deliveryFixture) addSub(t *testing.T, sub domain.WebhookSubscription) {
	t.Helper()
	if err := f.subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("create sub: %v", err)
	}
}

func (f *deliveryFixture) addEvent(t *testing.T, eventID, webhookID string) {
	t.Helper()
	err := f.events.Create(context.Background(), domain.WebhookEvent{
		EventID:   eventID,
		WebhookID: webhookID,
		Status:    domain.WebhookEventPending,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
}

func ackReceiver(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeliverySuccessMarksSent(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusOK, `{"status":"ok"}`)
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})
	f.addEvent(t, "ev-1", "wh-1")

	decision := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-1"}, 0, "", "")
	if decision != usecase.DecisionAck {
		t.Fatalf("expected ack, got %v", decision)
	}

	ev, err := f.events.Get(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.Status != domain.WebhookEventSent {
		t.Fatalf("status %s, want sent", ev.Status)
	}
	if len(f.pub.To(broker.WebhookDLQKey)) != 0 {
		t.Fatal("successful delivery reached the DLQ")
	}
}

func TestDelivery2xxWithoutAckBodyRetries(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusOK, `{"received":true}`)
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})
	f.addEvent(t, "ev-1", "wh-1")

	decision := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-1"}, 0, "", "")
	if decision != usecase.DecisionRetry {
		t.Fatalf("expected retry, got %v", decision)
	}
	ev, _ := f.events.Get(context.Background(), "ev-1")
	if ev.Status != domain.WebhookEventFailed {
		t.Fatalf("status %s, want failed", ev.Status)
	}
	if ev.LastError == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestDelivery5xxRetriesThenDeadLetters(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusInternalServerError, "")
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})
	f.addEvent(t, "ev-1", "wh-1")
	ctx := context.Background()
	msg := usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-1"}

	for attempt := 0; attempt < 3; attempt++ {
		if d := f.deliverer.Handle(ctx, msg, attempt, "", ""); d != usecase.DecisionRetry {
			t.Fatalf("attempt %d: expected retry, got %v", attempt, d)
		}
	}
	// Attempt count has reached the cap: dead-letter and ack.
	if d := f.deliverer.Handle(ctx, msg, 3, "", ""); d != usecase.DecisionAck {
		t.Fatalf("expected ack after retries exhausted, got %v", d)
	}

	ev, _ := f.events.Get(ctx, "ev-1")
	if ev.Status != domain.WebhookEventDLQPending {
		t.Fatalf("status %s, want dlq_pending", ev.Status)
	}
	dlq := f.pub.To(broker.WebhookDLQKey)
	if len(dlq) != 1 {
		t.Fatalf("expected 1 DLQ copy, got %d", len(dlq))
	}
	var entry struct {
		usecase.WebhookQueueMessage
		Error string `json:"error"`
	}
	if err := json.Unmarshal(dlq[0].Body, &entry); err != nil {
		t.Fatalf("decode DLQ entry: %v", err)
	}
	if entry.ID != "ev-1" || entry.Error == "" {
		t.Fatalf("DLQ entry incomplete: %+v", entry)
	}
}

func TestDeliveryAcksEvenWhenDLQWriteFails(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusInternalServerError, "")
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})
	f.addEvent(t, "ev-1", "wh-1")
	f.pub.FailNext = context.DeadlineExceeded

	d := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-1"}, 3, "", "")
	if d != usecase.DecisionAck {
		t.Fatalf("expected ack despite DLQ failure, got %v", d)
	}
}

func TestDeliverySignsWithHeaderAuth(t *testing.T) {
	var gotSignature atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature.Store(r.Header.Get("X-Hub-Signature"))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	f := newDeliveryFixture()
	f.addSub(t, domain.WebhookSubscription{
		WebhookID: "wh-1",
		DFID:      "df-1",
		URL:       srv.URL,
		Status:    domain.SubscriptionActive,
		Auth:      &domain.WebhookAuth{Type: domain.WebhookAuthHeader, Key: "X-Hub-Signature", Secret: "s3cret"},
	})
	f.addEvent(t, "ev-1", "wh-1")

	payload := domain.ConsentEvent{EventType: domain.EventConsentGranted, DFID: "df-1"}
	d := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-1", Payload: payload}, 0, "", "")
	if d != usecase.DecisionAck {
		t.Fatalf("expected ack, got %v", d)
	}

	want, err := cryptoinfra.SignPayload("s3cret", payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got, _ := gotSignature.Load().(string); got != want {
		t.Fatalf("signature header %q, want %q", got, want)
	}
}

func TestDeliveryTestMessageRepliesAndSkipsEvents(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusOK, `{"status":"ok"}`)
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})

	d := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{WebhookID: "wh-1", Test: true}, 0, "reply-queue", "corr-1")
	if d != usecase.DecisionAck {
		t.Fatalf("expected ack, got %v", d)
	}

	replies := f.pub.To("reply-queue")
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	var reply struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(replies[0].Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Status != "ok" {
		t.Fatalf("reply status %s", reply.Status)
	}
	if len(f.events.All()) != 0 {
		t.Fatal("test delivery wrote to the events table")
	}
	if len(f.pub.To(broker.WebhookDLQKey)) != 0 {
		t.Fatal("test delivery reached the DLQ")
	}
}

func TestDeliveryTestMessageFailureNeverRetries(t *testing.T) {
	f := newDeliveryFixture()
	srv := ackReceiver(t, http.StatusBadGateway, "")
	f.addSub(t, domain.WebhookSubscription{WebhookID: "wh-1", DFID: "df-1", URL: srv.URL, Status: domain.SubscriptionActive})

	d := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{WebhookID: "wh-1", Test: true}, 0, "reply-queue", "corr-1")
	if d != usecase.DecisionAck {
		t.Fatalf("expected ack, got %v", d)
	}
	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(f.pub.To("reply-queue")[0].Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Status != "failed" || reply.Message == "" {
		t.Fatalf("reply %+v", reply)
	}
}

func TestDeliveryMissingSubscriptionDeadLetters(t *testing.T) {
	f := newDeliveryFixture()
	f.addEvent(t, "ev-1", "wh-missing")

	d := f.deliverer.Handle(context.Background(), usecase.WebhookQueueMessage{ID: "ev-1", WebhookID: "wh-missing"}, 0, "", "")
	if d != usecase.DecisionAck {
		t.Fatalf("expected ack, got %v", d)
	}
	if len(f.pub.To(broker.WebhookDLQKey)) != 1 {
		t.Fatal("missing subscription should dead-letter the message")
	}
}
