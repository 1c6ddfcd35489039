package emission

import "github.com/shopspring/decimal"

// ComputeReward maps a usage score to the block reward. The excess above
// maxReward is added to the deferred carry, which is bookkeeping only and
// never flows back into a reward. A raw reward of exactly zero stays zero;
// anything else is clamped into [minReward, maxReward]. No rounding happens
// here.
func ComputeReward(score, deferred, k, minReward, maxReward decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	raw := decimal.Zero
	if k.IsPositive() {
		raw = score.Div(k)
	}
	if raw.GreaterThan(maxReward) {
		deferred = deferred.Add(raw.Sub(maxReward))
		raw = maxReward
	}
	if raw.Sign() <= 0 {
		return decimal.Zero, deferred
	}
	return decimal.Min(decimal.Max(raw, minReward), maxReward), deferred
}
