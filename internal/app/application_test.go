package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/services/emission"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

type stubPublisher struct {
	blocks []int64
}

func (p *stubPublisher) Name() string { return "block-publisher" }

func (p *stubPublisher) Start(context.Context) error { return nil }

func (p *stubPublisher) Stop(context.Context) error { return nil }

func (p *stubPublisher) PublishBlock(_ context.Context, blk protocol.Block) error {
	p.blocks = append(p.blocks, blk.BlockID)
	return nil
}

func TestApplicationWiring(t *testing.T) {
	pub := &stubPublisher{}
	cfg := emission.DefaultConfig()
	cfg.Interval = time.Hour

	application, err := New(Options{Emission: cfg, Publisher: pub}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	want := []string{"block-publisher", "protocol-emission-scheduler"}
	got := application.Services()
	if len(got) != len(want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("services = %v, want %v", got, want)
		}
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	if _, err := application.Accounts.Register(ctx, "alice"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if _, err := application.Accounts.Register(ctx, "bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := application.Wallets.Mint(ctx, "alice", ledger.UnitKarma, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := application.Wallets.Send(ctx, "alice", "bob", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("send: %v", err)
	}

	result, err := application.Emission.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !result.Emitted || result.BlockID != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(pub.blocks) != 1 || pub.blocks[0] != 1 {
		t.Fatalf("publisher saw %v", pub.blocks)
	}
}

func TestApplicationWithoutScheduler(t *testing.T) {
	cfg := emission.DefaultConfig()
	cfg.Scheduled = false
	application, err := New(Options{Emission: cfg}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if application.Scheduler != nil {
		t.Fatalf("expected no scheduler")
	}
	if n := len(application.Services()); n != 0 {
		t.Fatalf("expected no lifecycle services, got %v", application.Services())
	}
}

func TestApplicationRejectsInvalidEmissionConfig(t *testing.T) {
	cfg := emission.DefaultConfig()
	cfg.MinReward = decimal.NewFromInt(-1)
	if _, err := New(Options{Emission: cfg}, logger.NewNop()); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
