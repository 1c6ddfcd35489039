package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestPublisherDeliversBlocks(t *testing.T) {
	writer := &recordingWriter{}
	pub := newPublisher(Config{Enabled: true, Topic: "karma.blocks"}, logger.NewNop(), writer)
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	block := protocol.Block{BlockID: 42, EmittedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), RewardTotal: decimal.NewFromInt(5)}
	if err := pub.PublishBlock(context.Background(), block); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	msgs := writer.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Key) != "42" {
		t.Fatalf("expected key 42, got %q", msgs[0].Key)
	}
	var event BlockEvent
	if err := json.Unmarshal(msgs[0].Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != EventTypeBlockEmitted || event.Block.BlockID != 42 {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.Block.RewardTotal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected reward %s", event.Block.RewardTotal)
	}
	if !writer.closed {
		t.Fatalf("expected writer to be closed on stop")
	}
}

func TestPublisherRejectsWhenNotStarted(t *testing.T) {
	pub := newPublisher(Config{Enabled: true, Topic: "karma.blocks"}, logger.NewNop(), &recordingWriter{})
	if err := pub.PublishBlock(context.Background(), protocol.Block{BlockID: 1}); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}
}

func TestPublisherSurvivesBrokerErrors(t *testing.T) {
	writer := &recordingWriter{fail: errors.New("broker down")}
	pub := newPublisher(Config{Enabled: true, Topic: "karma.blocks"}, logger.NewNop(), writer)
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := pub.PublishBlock(context.Background(), protocol.Block{BlockID: i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(writer.messages()) != 0 {
		t.Fatalf("expected no delivered messages")
	}
}

func TestDisabledPublisherIsInert(t *testing.T) {
	pub, err := NewPublisher(Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := pub.PublishBlock(context.Background(), protocol.Block{BlockID: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewPublisherValidatesConfig(t *testing.T) {
	if _, err := NewPublisher(Config{Enabled: true, Brokers: []string{"kafka:9092"}}, logger.NewNop()); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	if _, err := NewPublisher(Config{Enabled: true, Topic: "karma.blocks"}, logger.NewNop()); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
}
