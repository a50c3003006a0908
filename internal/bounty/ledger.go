package bounty

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"quietend-server/internal/metrics"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"
)

// NewsPublisher spreads a bounty event outward from its origin location.
// Nil is allowed when no news system is attached.
type NewsPublisher interface {
	PublishNews(ctx context.Context, originLocationID int64, title, body string) error
}

// Ledger runs the bounty economy. The arithmetic lives here; the store
// applies the resulting movements transactionally.
type Ledger struct {
	store  Store
	news   NewsPublisher
	clk    clock.Clock
	cfg    config.GameConfig
	logger *slog.Logger

	// roll returns a value in 1..n. Replaced in tests.
	roll func(n int) int
}

func NewLedger(store Store, news NewsPublisher, clk clock.Clock, cfg config.GameConfig) *Ledger {
	logger := slog.With("component", "bounty_ledger")
	logger.Debug("Initializing bounty ledger")

	return &Ledger{
		store:  store,
		news:   news,
		clk:    clk,
		cfg:    cfg,
		logger: logger,
		roll:   func(n int) int { return rand.Intn(n) + 1 },
	}
}

// PostBounty places a price on a target's head, debiting the setter.
func (l *Ledger) PostBounty(ctx context.Context, setterID, targetID string, amount int) (*Bounty, error) {
	if amount <= 0 {
		return nil, errors.Validationf("bounty amount must be positive")
	}
	if setterID == targetID {
		return nil, errors.Validationf("cannot post a bounty on yourself")
	}

	setter, err := l.store.CombatantSnapshot(ctx, setterID)
	if err != nil {
		return nil, err
	}
	target, err := l.store.CombatantSnapshot(ctx, targetID)
	if err != nil {
		return nil, err
	}

	b, err := l.store.PostBounty(ctx, setterID, targetID, amount)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Bounty posted",
		"bounty_id", b.ID, "setter_id", setterID, "target_id", targetID, "amount", amount)

	if l.news != nil && setter.LocationID != nil {
		err := l.news.PublishNews(ctx, *setter.LocationID,
			"Bounty Posted",
			fmt.Sprintf("A %d credit bounty has been placed on **%s**.", amount, target.Name))
		if err != nil {
			l.logger.Warn("Failed to publish bounty news", "bounty_id", b.ID, "error", err)
		}
	}
	return b, nil
}

// Allocate splits a payment across bounties proportionally to what each
// still has outstanding, with the rounding remainder landing on the last.
func Allocate(bounties []Bounty, amount int) []Allocation {
	totalRemaining := 0
	for i := range bounties {
		totalRemaining += bounties[i].Remaining()
	}
	if totalRemaining == 0 || amount <= 0 {
		return nil
	}
	if amount > totalRemaining {
		amount = totalRemaining
	}

	allocations := make([]Allocation, 0, len(bounties))
	allocated := 0
	for i := range bounties {
		b := &bounties[i]
		if b.Remaining() == 0 {
			continue
		}
		share := amount * b.Remaining() / totalRemaining
		allocations = append(allocations, Allocation{
			BountyID: b.ID,
			SetterID: b.SetterID,
			Amount:   share,
		})
		allocated += share
	}
	if len(allocations) == 0 {
		return nil
	}
	// Remainder lands on the last bounty with anything outstanding.
	allocations[len(allocations)-1].Amount += amount - allocated

	for i := range allocations {
		for j := range bounties {
			if bounties[j].ID == allocations[i].BountyID {
				allocations[i].Settles = bounties[j].PaidSoFar+allocations[i].Amount >= bounties[j].OriginalAmount
			}
		}
	}
	return allocations
}

// PayBounty lets a target buy down their own bounties. The amount is
// capped at the total outstanding; fully paid bounties settle to their
// setters immediately.
func (l *Ledger) PayBounty(ctx context.Context, payerID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, errors.Validationf("payment must be positive")
	}

	bounties, err := l.store.ActiveBounties(ctx, payerID)
	if err != nil {
		return 0, err
	}
	allocations := Allocate(bounties, amount)
	if len(allocations) == 0 {
		return 0, errors.Validationf("no active bounties to pay")
	}

	paid := 0
	for _, a := range allocations {
		paid += a.Amount
	}
	if err := l.store.ApplyPayments(ctx, payerID, paid, allocations); err != nil {
		return 0, err
	}

	l.logger.Info("Bounty payment applied", "payer_id", payerID, "amount", paid, "bounties", len(allocations))
	return paid, nil
}

// RemoveBounty withdraws a posting. The setter gets the original amount
// back; the target's partial payments come back to the target.
func (l *Ledger) RemoveBounty(ctx context.Context, setterID string, bountyID int64) error {
	b, err := l.store.Bounty(ctx, bountyID)
	if err != nil {
		return err
	}
	if b.SetterID != setterID {
		return errors.Validationf("only the setter can withdraw a bounty")
	}
	if !b.IsActive {
		return errors.Validationf("bounty is no longer active")
	}

	if err := l.store.RemoveBounty(ctx, bountyID); err != nil {
		return err
	}
	l.logger.Info("Bounty removed", "bounty_id", bountyID, "setter_id", setterID)
	return nil
}

// CaptureAttempt rolls attacker against target. Success settles every
// bounty on the target and bans them from traveling; failure starts a
// per-pair cooldown.
func (l *Ledger) CaptureAttempt(ctx context.Context, attackerID, targetID string) (*CaptureResult, error) {
	if attackerID == targetID {
		return nil, errors.Validationf("cannot capture yourself")
	}

	attacker, err := l.store.CombatantSnapshot(ctx, attackerID)
	if err != nil {
		return nil, err
	}
	target, err := l.store.CombatantSnapshot(ctx, targetID)
	if err != nil {
		return nil, err
	}

	now := l.clk.Now()
	if attacker.HP <= 0 {
		return nil, errors.Validationf("%s is incapacitated", attacker.Name)
	}
	if target.HP <= 0 {
		return nil, errors.Validationf("%s is already down", target.Name)
	}
	if attacker.LocationID == nil || target.LocationID == nil || *attacker.LocationID != *target.LocationID {
		return nil, errors.Validationf("%s is not here", target.Name)
	}
	if target.TravelBannedUntil != nil && target.TravelBannedUntil.After(now) {
		return nil, errors.Validationf("%s was just captured", target.Name)
	}

	bounties, err := l.store.ActiveBounties(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if len(bounties) == 0 {
		return nil, errors.Validationf("%s has no active bounties", target.Name)
	}

	onCooldown, err := l.store.OnCooldown(ctx, attackerID, targetID, now)
	if err != nil {
		return nil, err
	}
	if onCooldown {
		return nil, errors.Conflictf("you cannot attempt another capture on %s yet", target.Name)
	}

	attackerRoll := l.roll(100)
	targetRoll := l.roll(100)
	logger := l.logger.With("operation", "capture",
		"attacker_id", attackerID, "target_id", targetID,
		"attacker_roll", attackerRoll, "target_roll", targetRoll)

	result := &CaptureResult{AttackerRoll: attackerRoll, TargetRoll: targetRoll}

	if attackerRoll <= targetRoll {
		if err := l.store.SetCooldown(ctx, attackerID, targetID, now.Add(l.cfg.CaptureCooldown)); err != nil {
			return nil, err
		}
		metrics.CaptureAttempts.WithLabelValues("failure").Inc()
		logger.Info("Capture failed")
		return result, nil
	}

	payout, err := l.store.Capture(ctx, attackerID, targetID, now.Add(l.cfg.PostCaptureTravelBan))
	if err != nil {
		return nil, err
	}
	result.Success = true
	result.Payout = payout
	metrics.CaptureAttempts.WithLabelValues("success").Inc()
	logger.Info("Capture succeeded",
		"attacker_reward", payout.AttackerReward, "target_hp", payout.TargetHP)
	return result, nil
}

// SweepExpired drops lapsed cooldowns and travel bans; called by the reaper.
func (l *Ledger) SweepExpired(ctx context.Context) error {
	now := l.clk.Now()

	cooldowns, err := l.store.DeleteExpiredCooldowns(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep capture cooldowns: %w", err)
	}
	bans, err := l.store.DeleteExpiredTravelBans(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep travel bans: %w", err)
	}
	if cooldowns > 0 || bans > 0 {
		l.logger.Info("Combat timers swept", "cooldowns", cooldowns, "travel_bans", bans)
	}
	return nil
}
