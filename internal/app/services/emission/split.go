package emission

import (
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
)

// Bucket ratios; they sum to exactly one.
var (
	ShareStakers    = decimal.RequireFromString("0.10")
	ShareDevCo      = decimal.RequireFromString("0.15")
	ShareValidators = decimal.RequireFromString("0.05")
	ShareFoundation = decimal.RequireFromString("0.10")
	ShareEligible   = decimal.RequireFromString("0.60")
)

// Split divides a reward across the five buckets.
func Split(reward decimal.Decimal) protocol.Splits {
	return protocol.Splits{
		Stakers:    reward.Mul(ShareStakers),
		DevCo:      reward.Mul(ShareDevCo),
		Validators: reward.Mul(ShareValidators),
		Foundation: reward.Mul(ShareFoundation),
		Eligible:   reward.Mul(ShareEligible),
	}
}
