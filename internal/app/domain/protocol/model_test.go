package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBucketKeysRoundTrip(t *testing.T) {
	seen := map[string]bool{}
	for _, b := range Buckets {
		key := b.Key()
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true

		parsed, ok := ParseBucket(key)
		require.True(t, ok)
		require.Equal(t, b, parsed)
	}
	_, ok := ParseBucket("treasury")
	require.False(t, ok)
}

func TestStateDefaults(t *testing.T) {
	var st State
	require.True(t, st.Since().Equal(time.Unix(0, 0)))
	require.Equal(t, int64(1), st.NextBlockID())

	last := int64(41)
	st.LastEmittedBlockID = &last
	require.Equal(t, int64(42), st.NextBlockID())
}

func TestAllocationJSONIsFlat(t *testing.T) {
	alloc := Allocation{
		Splits:              Splits{Stakers: decimal.NewFromInt(1), Eligible: decimal.NewFromInt(6)},
		StakersDistributed:  decimal.NewFromInt(1),
		EligibleDistributed: decimal.NewFromInt(6),
	}
	raw, err := json.Marshal(alloc)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	for _, key := range []string{"stakers", "devco", "validators", "foundation", "eligible", "stakers_distributed", "eligible_distributed", "deferred"} {
		require.Contains(t, flat, key)
	}
}
