package protocol

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket names one of the five system accounts receiving a share of every
// emitted reward.
type Bucket int

const (
	StakersPool Bucket = iota
	DevCo
	Validators
	Foundation
	EligiblePool
)

// Buckets lists every bucket in creation order.
var Buckets = []Bucket{StakersPool, DevCo, Validators, Foundation, EligiblePool}

var bucketKeys = map[Bucket]string{
	StakersPool:  "stakers_pool",
	DevCo:        "devco",
	Validators:   "validators",
	Foundation:   "foundation",
	EligiblePool: "eligible_pool",
}

// Key is the stable reserved identifier of the bucket account at the store
// boundary.
func (b Bucket) Key() string {
	if k, ok := bucketKeys[b]; ok {
		return k
	}
	return fmt.Sprintf("bucket_%d", int(b))
}

// Handle is the display handle given to the bucket account.
func (b Bucket) Handle() string {
	return "bucket_" + b.Key()
}

func (b Bucket) String() string { return b.Key() }

// ParseBucket resolves a reserved key back to its bucket.
func ParseBucket(key string) (Bucket, bool) {
	for b, k := range bucketKeys {
		if k == key {
			return b, true
		}
	}
	return 0, false
}

// State is the singleton emission watermark record.
type State struct {
	LastProcessedAt    *time.Time      `json:"last_processed_ts"`
	LastEmittedBlockID *int64          `json:"last_emitted_block_id"`
	DeferredRewards    decimal.Decimal `json:"deferred_rewards"`
	UtilizationWindow  map[string]any  `json:"utilization_window,omitempty"`
	SaturatedDays      int             `json:"saturated_days"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Since returns the start of the next scoring window.
func (s State) Since() time.Time {
	if s.LastProcessedAt == nil {
		return time.Unix(0, 0).UTC()
	}
	return *s.LastProcessedAt
}

// NextBlockID returns the identifier the next successful emission will use.
func (s State) NextBlockID() int64 {
	if s.LastEmittedBlockID == nil {
		return 1
	}
	return *s.LastEmittedBlockID + 1
}

// Splits holds the five bucket shares of a reward.
type Splits struct {
	Stakers    decimal.Decimal `json:"stakers"`
	DevCo      decimal.Decimal `json:"devco"`
	Validators decimal.Decimal `json:"validators"`
	Foundation decimal.Decimal `json:"foundation"`
	Eligible   decimal.Decimal `json:"eligible"`
}

// Total sums all five shares.
func (s Splits) Total() decimal.Decimal {
	return s.Stakers.Add(s.DevCo).Add(s.Validators).Add(s.Foundation).Add(s.Eligible)
}

// For returns the share assigned to bucket b.
func (s Splits) For(b Bucket) decimal.Decimal {
	switch b {
	case StakersPool:
		return s.Stakers
	case DevCo:
		return s.DevCo
	case Validators:
		return s.Validators
	case Foundation:
		return s.Foundation
	case EligiblePool:
		return s.Eligible
	}
	return decimal.Zero
}

// Allocation is what a block actually applied.
type Allocation struct {
	Splits
	StakersDistributed  decimal.Decimal `json:"stakers_distributed"`
	EligibleDistributed decimal.Decimal `json:"eligible_distributed"`
	Deferred            decimal.Decimal `json:"deferred"`
}

// Block is the immutable record of one completed emission cycle.
type Block struct {
	ID               string          `json:"id"`
	BlockID          int64           `json:"block_id"`
	EmittedAt        time.Time       `json:"emitted_at"`
	RewardTotal      decimal.Decimal `json:"reward_total"`
	Allocation       Allocation      `json:"splits_applied"`
	ProcessedTxCount int64           `json:"processed_tx_count"`
}

// Result is returned by one emission run.
type Result struct {
	Emitted             bool            `json:"emitted"`
	BlockID             int64           `json:"block_id"`
	RewardTotal         decimal.Decimal `json:"reward_total"`
	UsageScore          decimal.Decimal `json:"usage_score"`
	Splits              Splits          `json:"splits"`
	StakersDistributed  decimal.Decimal `json:"stakers_distributed"`
	EligibleDistributed decimal.Decimal `json:"eligible_distributed"`
	Deferred            decimal.Decimal `json:"deferred"`
	ProcessedTxCount    int64           `json:"processed_tx_count"`
	Message             string          `json:"message"`
}
