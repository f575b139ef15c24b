package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"claims_adjudicator/internal/domain"

	"github.com/segmentio/kafka-go"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []domain.Event
	failures int
	block    chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload []byte, key string) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	var e domain.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	if string(e.Type) != eventType || e.Key != key {
		return errors.New("envelope mismatch")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestEventDispatcher_DeliversAllBeforeShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, 4, 100, nil)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), domain.NewEvent(domain.EventClaimSubmitted, "claim-1", map[string]any{"n": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if pub.count() != 50 || d.Delivered() != 50 {
		t.Errorf("expected 50 delivered events, got published=%d delivered=%d", pub.count(), d.Delivered())
	}

	d.Emit(context.Background(), domain.NewEvent(domain.EventClaimSubmitted, "claim-2", nil))
	if d.Dropped() != 1 {
		t.Errorf("expected event after shutdown to be dropped, got %d", d.Dropped())
	}
}

func TestEventDispatcher_RetriesTransientFailures(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	d := NewEventDispatcher(pub, 1, 10, nil)
	d.retryBackoff = time.Millisecond

	d.Emit(context.Background(), domain.NewEvent(domain.EventPayoutExecuted, "claim-1", nil))
	_ = d.Shutdown(context.Background())

	if pub.count() != 1 {
		t.Errorf("expected delivery after retries, got %d", pub.count())
	}
}

func TestEventDispatcher_DropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewEventDispatcher(pub, 1, 2, nil)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), domain.NewEvent(domain.EventClaimAssessed, "c", nil))
	}
	close(pub.block)
	_ = d.Shutdown(context.Background())

	if d.Dropped() == 0 {
		t.Error("expected some events to be dropped while the queue was full")
	}
	if int64(pub.count())+d.Dropped() != 10 {
		t.Errorf("expected delivered+dropped to be 10, got %d+%d", pub.count(), d.Dropped())
	}
}

type fakeWriter struct {
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_TopicRouting(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "claims", nil); err == nil {
		t.Fatal("expected error without brokers")
	}

	w := &fakeWriter{}
	p := &KafkaPublisher{
		writer:       w,
		defaultTopic: "adjudicator.events",
		topicByEvent: map[string]string{"payout.executed": "adjudicator.payouts"},
	}

	_ = p.Publish(context.Background(), "payout.executed", []byte(`{}`), "claim-1")
	_ = p.Publish(context.Background(), "claim.submitted", []byte(`{}`), "claim-2")

	if len(w.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.messages))
	}
	if w.messages[0].Topic != "adjudicator.payouts" || string(w.messages[0].Key) != "claim-1" {
		t.Errorf("unexpected routed message %+v", w.messages[0])
	}
	if w.messages[1].Topic != "adjudicator.events" {
		t.Errorf("expected default topic, got %s", w.messages[1].Topic)
	}
}
