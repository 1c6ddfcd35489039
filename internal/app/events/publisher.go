// Package events announces committed emission blocks on a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/metrics"
	"github.com/R3E-Network/karma_ledger/internal/app/system"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// EventTypeBlockEmitted tags block announcements.
const EventTypeBlockEmitted = "protocol.block_emitted"

const queueSize = 256

var (
	_ system.Service = (*Publisher)(nil)

	errNotStarted = errors.New("block publisher not started")
)

// Config selects the broker and topic. A disabled publisher accepts and
// drops every block.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	Acks    int
}

// BlockEvent is the JSON payload written per block.
type BlockEvent struct {
	Type   string         `json:"type"`
	SentAt time.Time      `json:"sent_at"`
	Block  protocol.Block `json:"block"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher delivers blocks asynchronously so a slow broker never holds up an
// emission run. Delivery is best effort.
type Publisher struct {
	cfg    Config
	log    *logger.Logger
	writer messageWriter
	now    func() time.Time

	mu      sync.Mutex
	queue   chan kafka.Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPublisher builds a publisher backed by a kafka-go writer.
func NewPublisher(cfg Config, log *logger.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return newPublisher(cfg, log, nil), nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
	return newPublisher(cfg, log, writer), nil
}

func newPublisher(cfg Config, log *logger.Logger, writer messageWriter) *Publisher {
	if log == nil {
		log = logger.NewDefault("block-publisher")
	}
	return &Publisher{
		cfg:    cfg,
		log:    log,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Name() string { return "block-publisher" }

func (p *Publisher) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.log.Info("block publisher disabled")
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.queue = make(chan kafka.Message, queueSize)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.run(runCtx, p.queue)

	p.log.WithField("topic", p.cfg.Topic).Info("block publisher started")
	return nil
}

// Stop drains queued blocks and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.queue)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		stopErr = ctx.Err()
	}
	cancel()
	if err := p.writer.Close(); err != nil {
		p.log.WithError(err).Warn("close kafka writer")
	}
	p.log.Info("block publisher stopped")
	return stopErr
}

// PublishBlock queues a block for delivery. The message key is the block id
// so replays of one block land on one partition.
func (p *Publisher) PublishBlock(ctx context.Context, block protocol.Block) error {
	if !p.cfg.Enabled {
		return nil
	}
	value, err := json.Marshal(BlockEvent{Type: EventTypeBlockEmitted, SentAt: p.now(), Block: block})
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.BlockID, err)
	}
	msg := kafka.Message{Key: []byte(strconv.FormatInt(block.BlockID, 10)), Value: value}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		metrics.RecordBlockPublish("dropped")
		return errNotStarted
	}
	select {
	case p.queue <- msg:
		return nil
	case <-ctx.Done():
		metrics.RecordBlockPublish("dropped")
		return ctx.Err()
	default:
		metrics.RecordBlockPublish("dropped")
		return fmt.Errorf("block %d: publish queue full", block.BlockID)
	}
}

func (p *Publisher) run(ctx context.Context, queue <-chan kafka.Message) {
	defer p.wg.Done()
	for msg := range queue {
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			metrics.RecordBlockPublish("failed")
			p.log.WithError(err).WithField("block_id", string(msg.Key)).Warn("deliver block event failed")
			continue
		}
		metrics.RecordBlockPublish("ok")
		p.log.WithField("block_id", string(msg.Key)).Debug("block event delivered")
	}
}
