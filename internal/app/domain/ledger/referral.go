package ledger

import "time"

// Referral links an invitee to the participant who invited them. An invitee
// has at most one referral; Rewarded flips once the inviter's first send to
// the invitee has paid the bonus.
type Referral struct {
	ID        string    `json:"id"`
	InviteeID string    `json:"invitee_id"`
	InviterID string    `json:"inviter_id"`
	Rewarded  bool      `json:"rewarded"`
	CreatedAt time.Time `json:"created_at"`
}
