// Package bounty keeps the ledger of personal bounties: posting, partial
// payoffs, capture attempts and the bans and cooldowns that follow them.
package bounty

import (
	"context"
	"time"
)

// Bounty is one setter's price on one target. PaidSoFar aggregates the
// target's partial payments against it.
type Bounty struct {
	ID             int64
	SetterID       string
	TargetID       string
	OriginalAmount int
	PaidSoFar      int
	IsActive       bool
	CreatedAt      time.Time
}

// Remaining is what the target still owes on this bounty.
func (b *Bounty) Remaining() int {
	r := b.OriginalAmount - b.PaidSoFar
	if r < 0 {
		return 0
	}
	return r
}

// Allocation is one bounty's slice of a partial payment. Settles marks a
// bounty this payment pays off in full.
type Allocation struct {
	BountyID int64
	SetterID string
	Amount   int
	Settles  bool
}

// Combatant is the validation snapshot for capture attempts.
type Combatant struct {
	UserID            string
	Name              string
	HP                int
	Credits           int
	LocationID        *int64
	TravelBannedUntil *time.Time
}

// CapturePayout is what a successful capture moved through the store.
type CapturePayout struct {
	SetterPayouts  map[string]int
	AttackerReward int
	TargetHP       int
}

// CaptureResult is the outcome of one attempt, successful or not.
type CaptureResult struct {
	Success      bool
	AttackerRoll int
	TargetRoll   int
	Payout       *CapturePayout
}

// Store is the ledger's persistence surface. Money-moving methods are one
// transaction each.
type Store interface {
	// PostBounty debits the setter and inserts the active bounty row.
	PostBounty(ctx context.Context, setterID, targetID string, amount int) (*Bounty, error)
	Bounty(ctx context.Context, bountyID int64) (*Bounty, error)
	ActiveBounties(ctx context.Context, targetID string) ([]Bounty, error)

	// ApplyPayments debits the payer, records each allocation as a payment
	// row, and settles any allocation marked Settles by crediting its
	// setter originalAmount + all payments and deactivating the bounty.
	ApplyPayments(ctx context.Context, payerID string, total int, allocations []Allocation) error

	// RemoveBounty deactivates a bounty, refunds the setter its original
	// amount and returns accumulated payments to the target.
	RemoveBounty(ctx context.Context, bountyID int64) error

	// Capture settles every active bounty on the target: each setter is
	// paid originalAmount + their bounty's payments, the attacker is
	// credited the sum of original amounts, the target's hp drops to
	// max(1, 20%) and a travel ban is recorded.
	Capture(ctx context.Context, attackerID, targetID string, banUntil time.Time) (*CapturePayout, error)

	CombatantSnapshot(ctx context.Context, userID string) (*Combatant, error)

	OnCooldown(ctx context.Context, attackerID, targetID string, now time.Time) (bool, error)
	SetCooldown(ctx context.Context, attackerID, targetID string, until time.Time) error
	DeleteExpiredCooldowns(ctx context.Context, now time.Time) (int, error)
	DeleteExpiredTravelBans(ctx context.Context, now time.Time) (int, error)
}
