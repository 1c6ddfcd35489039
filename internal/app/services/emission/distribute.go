package emission

import (
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/ledger"
)

// divisionPrecision bounds intermediate quotients well below the ledger's
// display precision.
const divisionPrecision = 18

// Share is one recipient's rounded portion of a bucket.
type Share struct {
	AccountID string
	Amount    decimal.Decimal
}

// Distribute splits total across recipients in proportion to their weights,
// rounding each share independently to the ledger precision. Shares that
// round to zero are dropped and the rounding residual is not carried.
func Distribute(total decimal.Decimal, recipients []Recipient) []Share {
	if !total.IsPositive() {
		return nil
	}
	sum := decimal.Zero
	for _, r := range recipients {
		if r.Weight.IsPositive() {
			sum = sum.Add(r.Weight)
		}
	}
	if !sum.IsPositive() {
		return nil
	}

	var shares []Share
	for _, r := range recipients {
		if !r.Weight.IsPositive() {
			continue
		}
		amount := ledger.Round(total.Mul(r.Weight).DivRound(sum, divisionPrecision))
		if !amount.IsPositive() {
			continue
		}
		shares = append(shares, Share{AccountID: r.AccountID, Amount: amount})
	}
	return shares
}

// Sum adds up distributed amounts.
func Sum(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}
