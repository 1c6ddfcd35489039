package emission

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig reports reward bounds that cannot be applied.
var ErrInvalidConfig = errors.New("invalid emission config")

// Config holds the reward curve parameters and the scheduling cadence.
type Config struct {
	Interval  time.Duration
	Scheduled bool
	K         decimal.Decimal
	MinReward decimal.Decimal
	MaxReward decimal.Decimal
}

// DefaultConfig returns the production defaults: a run every ten minutes,
// K=1000 and rewards bounded to [5, 100].
func DefaultConfig() Config {
	return Config{
		Interval:  600 * time.Second,
		Scheduled: true,
		K:         decimal.NewFromInt(1000),
		MinReward: decimal.NewFromInt(5),
		MaxReward: decimal.NewFromInt(100),
	}
}

// Validate rejects negative bounds and an inverted range. A non-positive K is
// accepted and disables scaling.
func (c Config) Validate() error {
	if c.MinReward.IsNegative() {
		return fmt.Errorf("%w: min reward %s is negative", ErrInvalidConfig, c.MinReward)
	}
	if c.MaxReward.IsNegative() {
		return fmt.Errorf("%w: max reward %s is negative", ErrInvalidConfig, c.MaxReward)
	}
	if c.MaxReward.LessThan(c.MinReward) {
		return fmt.Errorf("%w: max reward %s below min reward %s", ErrInvalidConfig, c.MaxReward, c.MinReward)
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: negative interval %s", ErrInvalidConfig, c.Interval)
	}
	return nil
}
