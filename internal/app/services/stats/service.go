package stats

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
)

// Reader is the read-only view the stats service needs.
type Reader interface {
	storage.LedgerReader
	storage.ProtocolReader
}

// Network is the public snapshot of ledger activity.
type Network struct {
	ledger.Totals
	Circulation       decimal.Decimal `json:"circulation"`
	LastBlockID       *int64          `json:"last_block_id"`
	LastBlockAt       *time.Time      `json:"last_block_at"`
	FoundationBalance decimal.Decimal `json:"foundation_balance"`
}

// Service aggregates network statistics.
type Service struct {
	reader Reader
}

// New constructs a stats service.
func New(reader Reader) *Service {
	return &Service{reader: reader}
}

// Network returns totals over user accounts plus emission progress.
func (s *Service) Network(ctx context.Context) (Network, error) {
	totals, err := s.reader.NetworkTotals(ctx)
	if err != nil {
		return Network{}, err
	}
	out := Network{
		Totals:            totals,
		Circulation:       totals.Karma.Add(totals.Staked),
		FoundationBalance: decimal.Zero,
	}

	latest, err := s.reader.LatestBlock(ctx)
	switch {
	case err == nil:
		out.LastBlockID = &latest.BlockID
		out.LastBlockAt = &latest.EmittedAt
	case !errors.Is(err, storage.ErrNotFound):
		return Network{}, err
	}

	foundation, err := s.reader.GetReservedAccount(ctx, protocol.Foundation)
	switch {
	case err == nil:
		out.FoundationBalance = foundation.Karma
	case !errors.Is(err, storage.ErrNotFound):
		return Network{}, err
	}
	return out, nil
}
