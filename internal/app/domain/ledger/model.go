package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the precision balances and credited amounts are rounded to.
const DisplayPlaces = 3

// MinAmount is the smallest amount accepted by wallet operations.
var MinAmount = decimal.New(1, -DisplayPlaces)

// Round applies the ledger rounding rule (half-even at DisplayPlaces).
func Round(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(DisplayPlaces)
}

// Unit identifies one of the two fungible units held by an account.
type Unit string

const (
	UnitKarma  Unit = "karma"
	UnitChiliz Unit = "chiliz"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u == UnitKarma || u == UnitChiliz
}

// Account is a ledger participant with its balances.
type Account struct {
	ID            string          `json:"id"`
	Handle        string          `json:"handle"`
	ReservedKey   string          `json:"-"`
	Reserved      bool            `json:"is_reserved"`
	Event         bool            `json:"is_event"`
	Karma         decimal.Decimal `json:"karma_balance"`
	Chiliz        decimal.Decimal `json:"chiliz_balance"`
	Staked        decimal.Decimal `json:"staked_amount"`
	RewardsEarned decimal.Decimal `json:"rewards_earned"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Balance returns the liquid balance held in unit.
func (a Account) Balance(unit Unit) decimal.Decimal {
	if unit == UnitChiliz {
		return a.Chiliz
	}
	return a.Karma
}

// Delta is a signed change applied to an account's balances in one step.
type Delta struct {
	Karma         decimal.Decimal
	Chiliz        decimal.Decimal
	Staked        decimal.Decimal
	RewardsEarned decimal.Decimal
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Karma.IsZero() && d.Chiliz.IsZero() && d.Staked.IsZero() && d.RewardsEarned.IsZero()
}

// Apply returns the account with the delta added and balances rounded.
func (d Delta) Apply(acct Account) Account {
	acct.Karma = Round(acct.Karma.Add(d.Karma))
	acct.Chiliz = Round(acct.Chiliz.Add(d.Chiliz))
	acct.Staked = Round(acct.Staked.Add(d.Staked))
	acct.RewardsEarned = Round(acct.RewardsEarned.Add(d.RewardsEarned))
	return acct
}

// Negative reports whether any balance of acct is below zero.
func Negative(acct Account) bool {
	return acct.Karma.IsNegative() || acct.Chiliz.IsNegative() ||
		acct.Staked.IsNegative() || acct.RewardsEarned.IsNegative()
}

// Totals aggregates network-wide figures over non-reserved accounts and the
// transaction log.
type Totals struct {
	Users         int64           `json:"total_users"`
	Transfers     int64           `json:"total_transactions"`
	Minted        decimal.Decimal `json:"total_minted"`
	Transferred   decimal.Decimal `json:"total_transferred"`
	Karma         decimal.Decimal `json:"total_karma"`
	Chiliz        decimal.Decimal `json:"total_chiliz"`
	Staked        decimal.Decimal `json:"total_staked"`
	RewardsEarned decimal.Decimal `json:"total_rewards_earned"`
}
