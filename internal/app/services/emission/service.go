package emission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/metrics"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// BlockPublisher announces committed blocks to downstream consumers.
type BlockPublisher interface {
	PublishBlock(ctx context.Context, block protocol.Block) error
}

// Status is the read-only view served to dashboards.
type Status struct {
	State       protocol.State  `json:"state"`
	LatestBlock *protocol.Block `json:"latest_block,omitempty"`
	NextBlockID int64           `json:"next_block_id"`
	K           decimal.Decimal `json:"k"`
	MinReward   decimal.Decimal `json:"min_reward"`
	MaxReward   decimal.Decimal `json:"max_reward"`
	Interval    string          `json:"interval"`
	Scheduled   bool            `json:"scheduled"`
}

// Service runs protocol emission cycles against the ledger.
type Service struct {
	store     storage.LedgerStore
	cfg       Config
	log       *logger.Logger
	publisher BlockPublisher
	now       func() time.Time
}

// New constructs an emission service.
func New(store storage.LedgerStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("emission")
	}
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithPublisher attaches a publisher notified after each committed block.
func (s *Service) WithPublisher(p BlockPublisher) {
	s.publisher = p
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

// RunOnce executes one emission cycle in a single ledger transaction. A
// zero reward is a successful no-op: the block id is not consumed and the
// watermark stays put. Any failure leaves the ledger untouched.
func (s *Service) RunOnce(ctx context.Context) (protocol.Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return protocol.Result{}, err
	}
	start := time.Now()

	var (
		result protocol.Result
		block  protocol.Block
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		var err error
		result, block, err = s.emit(ctx, tx)
		return err
	})
	if err != nil {
		metrics.RecordEmission("failed", time.Since(start), 0, 0, 0)
		s.log.WithError(err).Error("protocol emission failed")
		return protocol.Result{}, fmt.Errorf("run emission: %w", err)
	}

	deferred := result.Deferred.InexactFloat64()
	if !result.Emitted {
		metrics.RecordEmission("noop", time.Since(start), 0, 0, deferred)
		s.log.WithField("next_block_id", result.BlockID).
			WithField("processed_tx_count", result.ProcessedTxCount).
			Info("protocol emission skipped: zero reward")
		return result, nil
	}

	metrics.RecordEmission("emitted", time.Since(start), result.BlockID, result.RewardTotal.InexactFloat64(), deferred)
	s.log.WithField("block_id", result.BlockID).
		WithField("reward_total", result.RewardTotal.String()).
		WithField("usage_score", result.UsageScore.String()).
		WithField("stakers_distributed", result.StakersDistributed.String()).
		WithField("eligible_distributed", result.EligibleDistributed.String()).
		WithField("processed_tx_count", result.ProcessedTxCount).
		Info("protocol emission block committed")

	if s.publisher != nil {
		if err := s.publisher.PublishBlock(ctx, block); err != nil {
			s.log.WithError(err).WithField("block_id", block.BlockID).Warn("publish emission block failed")
		}
	}
	return result, nil
}

func (s *Service) emit(ctx context.Context, tx storage.LedgerTx) (protocol.Result, protocol.Block, error) {
	buckets := make(map[protocol.Bucket]ledger.Account, len(protocol.Buckets))
	for _, b := range protocol.Buckets {
		acct, err := tx.GetOrCreateReservedAccount(ctx, b)
		if err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		buckets[b] = acct
	}

	state, err := tx.LockProtocolState(ctx)
	if err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}
	since := state.Since()

	usage, err := ComputeUsage(ctx, tx, since)
	if err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}
	processed, err := tx.CountTransfers(ctx, since)
	if err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}

	reward, deferred := ComputeReward(usage.Score, state.DeferredRewards, s.cfg.K, s.cfg.MinReward, s.cfg.MaxReward)
	now := s.now()

	if reward.Sign() <= 0 {
		state.UpdatedAt = now
		if err := tx.SaveProtocolState(ctx, state); err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		return protocol.Result{
			BlockID:          state.NextBlockID(),
			RewardTotal:      decimal.Zero,
			UsageScore:       usage.Score,
			Deferred:         state.DeferredRewards,
			ProcessedTxCount: processed,
			Message:          "No emission (zero usage or reward)",
		}, protocol.Block{}, nil
	}

	blockID := state.NextBlockID()
	splits := Split(reward)

	for _, b := range []protocol.Bucket{protocol.DevCo, protocol.Validators, protocol.Foundation} {
		amount := ledger.Round(splits.For(b))
		if !amount.IsPositive() {
			continue
		}
		acct := buckets[b]
		if _, err := tx.CreditBalance(ctx, acct.ID, ledger.UnitKarma, amount); err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		if _, err := tx.AppendTransaction(ctx, ledger.Transaction{
			CreatedAt: now,
			Type:      ledger.TxProtocolEmission,
			ToID:      acct.ID,
			Karma:     ledger.Amount(amount),
			Metadata:  map[string]any{"bucket": b.Key()},
			BlockID:   &blockID,
		}); err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
	}

	stakersDistributed := decimal.Zero
	totalStaked, err := tx.SumStakedAmount(ctx)
	if err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}
	if totalStaked.IsPositive() && splits.Stakers.IsPositive() {
		stakers, err := tx.ListStakers(ctx)
		if err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		weights := make([]Recipient, 0, len(stakers))
		for _, acct := range stakers {
			weights = append(weights, Recipient{AccountID: acct.ID, Weight: acct.Staked})
		}
		shares := Distribute(splits.Stakers, weights)
		if err := s.creditRewards(ctx, tx, shares, ledger.TxStakeReward, blockID, map[string]any{"emission_block": blockID}, now); err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		stakersDistributed = Sum(shares)
	}

	eligibleDistributed := decimal.Zero
	if usage.Score.IsPositive() && splits.Eligible.IsPositive() && len(usage.Recipients) > 0 {
		shares := Distribute(splits.Eligible, usage.Recipients)
		if err := s.creditRewards(ctx, tx, shares, ledger.TxProtocolEmission, blockID, map[string]any{"eligible_reward": true}, now); err != nil {
			return protocol.Result{}, protocol.Block{}, err
		}
		eligibleDistributed = Sum(shares)
	}

	state.LastProcessedAt = &now
	state.LastEmittedBlockID = &blockID
	state.DeferredRewards = deferred
	state.UpdatedAt = now
	if err := tx.SaveProtocolState(ctx, state); err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}

	block, err := tx.InsertProtocolBlock(ctx, protocol.Block{
		BlockID:     blockID,
		EmittedAt:   now,
		RewardTotal: reward,
		Allocation: protocol.Allocation{
			Splits:              splits,
			StakersDistributed:  stakersDistributed,
			EligibleDistributed: eligibleDistributed,
			Deferred:            deferred,
		},
		ProcessedTxCount: processed,
	})
	if err != nil {
		return protocol.Result{}, protocol.Block{}, err
	}

	return protocol.Result{
		Emitted:             true,
		BlockID:             blockID,
		RewardTotal:         reward,
		UsageScore:          usage.Score,
		Splits:              splits,
		StakersDistributed:  stakersDistributed,
		EligibleDistributed: eligibleDistributed,
		Deferred:            deferred,
		ProcessedTxCount:    processed,
		Message:             fmt.Sprintf("Emission block %d completed", blockID),
	}, block, nil
}

// creditRewards pays each share to its recipient's liquid balance and
// cumulative rewards, logging one transaction per share.
func (s *Service) creditRewards(ctx context.Context, tx storage.LedgerTx, shares []Share, kind ledger.TxType, blockID int64, meta map[string]any, now time.Time) error {
	for _, share := range shares {
		if _, err := tx.CreditBalance(ctx, share.AccountID, ledger.UnitKarma, share.Amount); err != nil {
			return err
		}
		if _, err := tx.CreditRewardsEarned(ctx, share.AccountID, share.Amount); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, ledger.Transaction{
			CreatedAt: now,
			Type:      kind,
			ToID:      share.AccountID,
			Karma:     ledger.Amount(share.Amount),
			Metadata:  meta,
			BlockID:   &blockID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the protocol state, the latest block and the active curve.
func (s *Service) Status(ctx context.Context) (Status, error) {
	state, err := s.store.GetProtocolState(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		State:       state,
		NextBlockID: state.NextBlockID(),
		K:           s.cfg.K,
		MinReward:   s.cfg.MinReward,
		MaxReward:   s.cfg.MaxReward,
		Interval:    s.cfg.Interval.String(),
		Scheduled:   s.cfg.Scheduled,
	}
	latest, err := s.store.LatestBlock(ctx)
	switch {
	case err == nil:
		status.LatestBlock = &latest
	case !errors.Is(err, storage.ErrNotFound):
		return Status{}, err
	}
	return status, nil
}

// ListBlocks returns the most recent blocks, newest first.
func (s *Service) ListBlocks(ctx context.Context, limit int) ([]protocol.Block, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListBlocks(ctx, limit)
}
