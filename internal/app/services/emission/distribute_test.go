package emission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistributeProRata(t *testing.T) {
	shares := Distribute(d("40"), []Recipient{
		{AccountID: "a", Weight: d("100")},
		{AccountID: "b", Weight: d("300")},
	})
	require.Len(t, shares, 2)
	require.Equal(t, "10.000", shares[0].Amount.StringFixed(3))
	require.Equal(t, "30.000", shares[1].Amount.StringFixed(3))
	require.True(t, Sum(shares).Equal(d("40")))
}

func TestDistributeRoundsEachShare(t *testing.T) {
	shares := Distribute(d("1"), []Recipient{
		{AccountID: "a", Weight: d("1")},
		{AccountID: "b", Weight: d("1")},
		{AccountID: "c", Weight: d("1")},
	})
	require.Len(t, shares, 3)
	for _, s := range shares {
		require.Equal(t, "0.333", s.Amount.StringFixed(3))
	}
	// The residual is dropped.
	require.True(t, Sum(shares).Equal(d("0.999")))
}

func TestDistributeDropsZeroShares(t *testing.T) {
	shares := Distribute(d("0.001"), []Recipient{
		{AccountID: "whale", Weight: d("100000")},
		{AccountID: "dust", Weight: d("1")},
	})
	require.Len(t, shares, 1)
	require.Equal(t, "whale", shares[0].AccountID)
}

func TestDistributeEmptyCases(t *testing.T) {
	require.Empty(t, Distribute(d("0"), []Recipient{{AccountID: "a", Weight: d("1")}}))
	require.Empty(t, Distribute(d("-5"), []Recipient{{AccountID: "a", Weight: d("1")}}))
	require.Empty(t, Distribute(d("5"), []Recipient{{AccountID: "a", Weight: d("0")}}))
	require.Empty(t, Distribute(d("5"), nil))
}
