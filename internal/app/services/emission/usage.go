package emission

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
)

// TransferReader is the slice of the ledger the usage scorer reads.
type TransferReader interface {
	SumTransfersByRecipient(ctx context.Context, since time.Time) ([]ledger.TransferTotal, error)
}

// Recipient is an account with its weight in a pro-rata distribution.
type Recipient struct {
	AccountID string
	Weight    decimal.Decimal
}

// Usage is the scored activity of one window.
type Usage struct {
	Score      decimal.Decimal
	Recipients []Recipient
}

// ComputeUsage scores every non-reserved recipient of peer transfers created
// at or after since as total × sqrt(count). A zero since covers all history.
func ComputeUsage(ctx context.Context, reader TransferReader, since time.Time) (Usage, error) {
	totals, err := reader.SumTransfersByRecipient(ctx, since)
	if err != nil {
		return Usage{}, fmt.Errorf("score usage: %w", err)
	}
	usage := Usage{Score: decimal.Zero}
	for _, row := range totals {
		if row.Count <= 0 {
			continue
		}
		score := row.Total.Mul(sqrtCount(row.Count))
		usage.Score = usage.Score.Add(score)
		usage.Recipients = append(usage.Recipients, Recipient{AccountID: row.AccountID, Weight: score})
	}
	return usage, nil
}

func sqrtCount(n int64) decimal.Decimal {
	if n == 1 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(math.Sqrt(float64(n)))
}
