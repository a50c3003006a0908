package group

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	logger := slog.With("component", "group_repository", "operation", "init")
	logger.Debug("Initializing group repository")
	return &Repository{db: db}
}

const groupColumns = `id, name, leader_id, current_location_id, status, created_at, updated_at`

func scanGroup(row interface{ Scan(...interface{}) error }) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.LeaderID, &g.CurrentLocationID, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repository) CreateGroup(ctx context.Context, name, leaderID string, locationID *int64) (*Group, error) {
	query := `
		INSERT INTO groups (name, leader_id, current_location_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING ` + groupColumns

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, name, leaderID, locationID))
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return g, nil
}

func (r *Repository) Group(ctx context.Context, groupID int64) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, groupID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("group %d not found", groupID)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (r *Repository) Members(ctx context.Context, groupID int64) ([]Member, error) {
	query := `
		SELECT id, name, group_id, current_location_id FROM characters
		WHERE group_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Name, &m.GroupID, &m.LocationID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Repository) MemberInfo(ctx context.Context, userID string) (*Member, error) {
	query := `SELECT id, name, group_id, current_location_id FROM characters WHERE id = $1`

	var m Member
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&m.UserID, &m.Name, &m.GroupID, &m.LocationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("character %s not found", userID)
		}
		return nil, fmt.Errorf("failed to get member info: %w", err)
	}
	return &m, nil
}

func (r *Repository) SetMemberGroup(ctx context.Context, userID string, groupID *int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE characters SET group_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to set member group: %w", err)
	}
	return nil
}

func (r *Repository) SetLeader(ctx context.Context, groupID int64, leaderID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE groups SET leader_id = $2, updated_at = NOW() WHERE id = $1
	`, groupID, leaderID)
	if err != nil {
		return fmt.Errorf("failed to set group leader: %w", err)
	}
	return nil
}

func (r *Repository) SetGroupLocation(ctx context.Context, groupID, locationID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE groups SET current_location_id = $2, updated_at = NOW() WHERE id = $1
	`, groupID, locationID)
	if err != nil {
		return fmt.Errorf("failed to set group location: %w", err)
	}
	return nil
}

func (r *Repository) Dissolve(ctx context.Context, groupID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE groups SET status = 'dissolved', updated_at = NOW() WHERE id = $1
	`, groupID)
	if err != nil {
		return fmt.Errorf("failed to dissolve group: %w", err)
	}
	return nil
}

func (r *Repository) CreateInvitation(ctx context.Context, inv Invitation) error {
	// The live-pair check and the insert share one statement so two
	// concurrent invites cannot both land.
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO group_invites (id, group_id, inviter_id, invitee_id, created_at, expires_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM group_invites
			WHERE group_id = $2 AND invitee_id = $4 AND expires_at > $5
		)
	`, inv.ID, inv.GroupID, inv.InviterID, inv.InviteeID, inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check invitation insert: %w", err)
	}
	if n == 0 {
		return errors.Conflictf("an invitation for that character is already pending")
	}
	return nil
}

func (r *Repository) Invitation(ctx context.Context, id string) (*Invitation, error) {
	query := `
		SELECT id, group_id, inviter_id, invitee_id, created_at, expires_at
		FROM group_invites WHERE id = $1`

	var inv Invitation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&inv.ID, &inv.GroupID, &inv.InviterID, &inv.InviteeID, &inv.CreatedAt, &inv.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("invitation %s not found", id)
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

func (r *Repository) DeleteInvitation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_invites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}
	return nil
}

func (r *Repository) DeleteExpiredInvitations(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM group_invites WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired invitations: %w", err)
	}
	return int(n), nil
}

func (r *Repository) CreateVote(ctx context.Context, v VoteSession) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO group_vote_sessions (id, group_id, kind, payload_id, channel_id, created_at, expires_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM group_vote_sessions WHERE group_id = $2
		)
	`, v.ID, v.GroupID, v.Kind, v.PayloadID, v.ChannelID, v.CreatedAt, v.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create vote session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check vote insert: %w", err)
	}
	if n == 0 {
		return errors.Conflictf("the group already has an open vote")
	}
	return nil
}

func (r *Repository) VoteSession(ctx context.Context, id string) (*VoteSession, error) {
	query := `
		SELECT id, group_id, kind, payload_id, channel_id, created_at, expires_at
		FROM group_vote_sessions WHERE id = $1`

	var v VoteSession
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.GroupID, &v.Kind, &v.PayloadID, &v.ChannelID, &v.CreatedAt, &v.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("vote session %s not found", id)
		}
		return nil, fmt.Errorf("failed to get vote session: %w", err)
	}
	return &v, nil
}

func (r *Repository) CastVote(ctx context.Context, sessionID, userID string, choice Choice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_votes (session_id, user_id, choice, cast_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET choice = EXCLUDED.choice, cast_at = NOW()
	`, sessionID, userID, choice)
	if err != nil {
		return fmt.Errorf("failed to cast vote: %w", err)
	}
	return nil
}

func (r *Repository) Votes(ctx context.Context, sessionID string) (map[string]Choice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, choice FROM group_votes WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	votes := make(map[string]Choice)
	for rows.Next() {
		var userID string
		var choice Choice
		if err := rows.Scan(&userID, &choice); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes[userID] = choice
	}
	return votes, rows.Err()
}

// ClaimVote deletes the session row; the deleter owns the tally. Cast
// votes cascade with the session.
func (r *Repository) ClaimVote(ctx context.Context, sessionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM group_vote_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to claim vote session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check vote claim: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) ExpiredVotes(ctx context.Context, now time.Time) ([]VoteSession, error) {
	query := `
		SELECT id, group_id, kind, payload_id, channel_id, created_at, expires_at
		FROM group_vote_sessions WHERE expires_at <= $1`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired votes: %w", err)
	}
	defer rows.Close()

	var sessions []VoteSession
	for rows.Next() {
		var v VoteSession
		if err := rows.Scan(&v.ID, &v.GroupID, &v.Kind, &v.PayloadID, &v.ChannelID, &v.CreatedAt, &v.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired vote: %w", err)
		}
		sessions = append(sessions, v)
	}
	return sessions, rows.Err()
}
