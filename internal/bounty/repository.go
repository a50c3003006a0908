package bounty

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/character"
	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
)

type Repository struct {
	db         *database.DB
	characters *character.Repository
}

func NewRepository(db *database.DB, characters *character.Repository) *Repository {
	logger := slog.With("component", "bounty_repository", "operation", "init")
	logger.Debug("Initializing bounty repository")
	return &Repository{db: db, characters: characters}
}

const bountyColumns = `
	b.id, b.setter_id, b.target_id, b.original_amount,
	COALESCE((SELECT SUM(p.amount) FROM bounty_payments p WHERE p.bounty_id = b.id), 0),
	b.is_active, b.created_at
`

func scanBounty(row interface{ Scan(...interface{}) error }) (*Bounty, error) {
	var b Bounty
	err := row.Scan(&b.ID, &b.SetterID, &b.TargetID, &b.OriginalAmount, &b.PaidSoFar, &b.IsActive, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) PostBounty(ctx context.Context, setterID, targetID string, amount int) (*Bounty, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.characters.AdjustCredits(ctx, tx, setterID, int64(-amount)); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO personal_bounties (setter_id, target_id, original_amount, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, setter_id, target_id, original_amount, 0, is_active, created_at`

	b, err := scanBounty(tx.QueryRowContext(ctx, query, setterID, targetID, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to insert bounty: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bounty post: %w", err)
	}
	return b, nil
}

func (r *Repository) Bounty(ctx context.Context, bountyID int64) (*Bounty, error) {
	query := `SELECT ` + bountyColumns + ` FROM personal_bounties b WHERE b.id = $1`

	b, err := scanBounty(r.db.QueryRowContext(ctx, query, bountyID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("bounty %d not found", bountyID)
		}
		return nil, fmt.Errorf("failed to get bounty: %w", err)
	}
	return b, nil
}

func (r *Repository) ActiveBounties(ctx context.Context, targetID string) ([]Bounty, error) {
	query := `
		SELECT ` + bountyColumns + ` FROM personal_bounties b
		WHERE b.target_id = $1 AND b.is_active
		ORDER BY b.created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active bounties: %w", err)
	}
	defer rows.Close()

	var bounties []Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bounty: %w", err)
		}
		bounties = append(bounties, *b)
	}
	return bounties, rows.Err()
}

func (r *Repository) ApplyPayments(ctx context.Context, payerID string, total int, allocations []Allocation) error {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.characters.AdjustCredits(ctx, tx, payerID, int64(-total)); err != nil {
		return err
	}

	for _, a := range allocations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bounty_payments (bounty_id, payer_id, amount)
			VALUES ($1, $2, $3)
		`, a.BountyID, payerID, a.Amount)
		if err != nil {
			return fmt.Errorf("failed to record bounty payment: %w", err)
		}

		if !a.Settles {
			continue
		}
		var originalAmount, paidTotal int
		err = tx.QueryRowContext(ctx, `
			SELECT b.original_amount,
			       COALESCE((SELECT SUM(p.amount) FROM bounty_payments p WHERE p.bounty_id = b.id), 0)
			FROM personal_bounties b WHERE b.id = $1
		`, a.BountyID).Scan(&originalAmount, &paidTotal)
		if err != nil {
			return fmt.Errorf("failed to read bounty for settlement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE personal_bounties SET is_active = FALSE WHERE id = $1
		`, a.BountyID); err != nil {
			return fmt.Errorf("failed to deactivate settled bounty: %w", err)
		}
		if err := r.characters.AdjustCredits(ctx, tx, a.SetterID, int64(originalAmount+paidTotal)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bounty payments: %w", err)
	}
	return nil
}

func (r *Repository) RemoveBounty(ctx context.Context, bountyID int64) error {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var setterID, targetID string
	var originalAmount, paidTotal int
	err = tx.QueryRowContext(ctx, `
		SELECT b.setter_id, b.target_id, b.original_amount,
		       COALESCE((SELECT SUM(p.amount) FROM bounty_payments p WHERE p.bounty_id = b.id), 0)
		FROM personal_bounties b WHERE b.id = $1 AND b.is_active
		FOR UPDATE
	`, bountyID).Scan(&setterID, &targetID, &originalAmount, &paidTotal)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFoundf("bounty %d not found or inactive", bountyID)
		}
		return fmt.Errorf("failed to read bounty for removal: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE personal_bounties SET is_active = FALSE WHERE id = $1
	`, bountyID); err != nil {
		return fmt.Errorf("failed to deactivate bounty: %w", err)
	}
	if err := r.characters.AdjustCredits(ctx, tx, setterID, int64(originalAmount)); err != nil {
		return err
	}
	if paidTotal > 0 {
		if err := r.characters.AdjustCredits(ctx, tx, targetID, int64(paidTotal)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bounty removal: %w", err)
	}
	return nil
}

func (r *Repository) Capture(ctx context.Context, attackerID, targetID string, banUntil time.Time) (*CapturePayout, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT b.id, b.setter_id, b.original_amount,
		       COALESCE((SELECT SUM(p.amount) FROM bounty_payments p WHERE p.bounty_id = b.id), 0)
		FROM personal_bounties b
		WHERE b.target_id = $1 AND b.is_active
		FOR UPDATE
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock target bounties: %w", err)
	}

	type row struct {
		id             int64
		setterID       string
		originalAmount int
		paidTotal      int
	}
	var locked []row
	for rows.Next() {
		var b row
		if err := rows.Scan(&b.id, &b.setterID, &b.originalAmount, &b.paidTotal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan bounty for capture: %w", err)
		}
		locked = append(locked, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bounties for capture: %w", err)
	}
	if len(locked) == 0 {
		return nil, errors.Conflictf("no active bounties remain on the target")
	}

	payout := &CapturePayout{SetterPayouts: make(map[string]int)}
	for _, b := range locked {
		if _, err := tx.ExecContext(ctx, `
			UPDATE personal_bounties SET is_active = FALSE WHERE id = $1
		`, b.id); err != nil {
			return nil, fmt.Errorf("failed to deactivate captured bounty: %w", err)
		}
		amount := b.originalAmount + b.paidTotal
		if err := r.characters.AdjustCredits(ctx, tx, b.setterID, int64(amount)); err != nil {
			return nil, err
		}
		payout.SetterPayouts[b.setterID] += amount
		payout.AttackerReward += b.originalAmount
	}

	if err := r.characters.AdjustCredits(ctx, tx, attackerID, int64(payout.AttackerReward)); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE characters SET hp = GREATEST(1, hp / 5), updated_at = NOW()
		WHERE id = $1
		RETURNING hp
	`, targetID).Scan(&payout.TargetHP)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce target hp: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO travel_bans (user_id, banned_until, reason)
		VALUES ($1, $2, 'captured')
	`, targetID, banUntil); err != nil {
		return nil, fmt.Errorf("failed to insert travel ban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit capture: %w", err)
	}
	return payout, nil
}

func (r *Repository) CombatantSnapshot(ctx context.Context, userID string) (*Combatant, error) {
	query := `
		SELECT c.id, c.name, c.hp, c.credits, c.current_location_id,
		       (SELECT tb.banned_until FROM travel_bans tb
		        WHERE tb.user_id = c.id AND tb.banned_until > NOW()
		        ORDER BY tb.banned_until DESC LIMIT 1)
		FROM characters c WHERE c.id = $1`

	var c Combatant
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&c.UserID, &c.Name, &c.HP, &c.Credits, &c.LocationID, &c.TravelBannedUntil,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("character %s not found", userID)
		}
		return nil, fmt.Errorf("failed to snapshot combatant: %w", err)
	}
	return &c, nil
}

func (r *Repository) OnCooldown(ctx context.Context, attackerID, targetID string, now time.Time) (bool, error) {
	var onCooldown bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM capture_cooldowns
			WHERE attacker_id = $1 AND target_id = $2 AND cooldown_until > $3
		)
	`, attackerID, targetID, now).Scan(&onCooldown)
	if err != nil {
		return false, fmt.Errorf("failed to check capture cooldown: %w", err)
	}
	return onCooldown, nil
}

func (r *Repository) SetCooldown(ctx context.Context, attackerID, targetID string, until time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capture_cooldowns (attacker_id, target_id, cooldown_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (attacker_id, target_id)
		DO UPDATE SET cooldown_until = EXCLUDED.cooldown_until
	`, attackerID, targetID, until)
	if err != nil {
		return fmt.Errorf("failed to set capture cooldown: %w", err)
	}
	return nil
}

func (r *Repository) DeleteExpiredCooldowns(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM capture_cooldowns WHERE cooldown_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cooldowns: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired cooldowns: %w", err)
	}
	return int(n), nil
}

func (r *Repository) DeleteExpiredTravelBans(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM travel_bans WHERE banned_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired travel bans: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired travel bans: %w", err)
	}
	return int(n), nil
}
