package character

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	logger := slog.With("component", "character_repository", "operation", "init")
	logger.Debug("Initializing character repository")
	return &Repository{db: db}
}

const characterColumns = `
	id, name, callsign, hp, max_hp, credits, xp, level, skill_points,
	engineering, navigation, combat, medical,
	current_location_id, location_status, current_ship_id, current_home_id,
	current_thread_id, thread_location_id,
	active_ship_id, group_id, panel_message_id,
	is_logged_in, auto_rename, created_at, updated_at
`

func scanCharacter(row interface{ Scan(...interface{}) error }) (*Character, error) {
	var c Character
	err := row.Scan(
		&c.ID, &c.Name, &c.Callsign, &c.HP, &c.MaxHP, &c.Credits, &c.XP,
		&c.Level, &c.SkillPoints,
		&c.Engineering, &c.Navigation, &c.Combat, &c.Medical,
		&c.CurrentLocationID, &c.LocationStatus, &c.CurrentShipID,
		&c.CurrentHomeID, &c.CurrentThreadID, &c.ThreadLocationID,
		&c.ActiveShipID, &c.GroupID, &c.PanelMessageID,
		&c.IsLoggedIn, &c.AutoRename, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE id = $1`

	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("character %s not found", id)
		}
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, id, name, callsign string, startLocationID int64) (*Character, error) {
	logger := slog.With(
		"component", "character_repository",
		"operation", "create",
		"character_id", id,
		"name", name,
	)
	logger.Info("Creating character")

	query := `
		INSERT INTO characters (
			id, name, callsign, hp, max_hp, credits, xp, level, skill_points,
			engineering, navigation, combat, medical,
			current_location_id, location_status, is_logged_in, auto_rename
		)
		VALUES ($1, $2, $3, 100, 100, 500, 0, 1, 0, 1, 1, 1, 1, $4, 'docked', false, true)
		RETURNING ` + characterColumns

	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, id, name, callsign, startLocationID))
	if err != nil {
		logger.Error("Failed to create character", "error", err)
		return nil, fmt.Errorf("failed to create character: %w", err)
	}

	logger.Info("Character created successfully", "start_location_id", startLocationID)
	return c, nil
}

// PlaceAtLocation sets presence to AtLocation, clearing the other presence
// columns. Runs inside the caller's transaction when one is supplied.
func (r *Repository) PlaceAtLocation(ctx context.Context, ex database.Executor, id string, locationID int64, status LocationStatus) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET current_location_id = $2, location_status = $3,
		    current_ship_id = NULL, current_home_id = NULL,
		    current_thread_id = NULL, thread_location_id = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id, locationID, status)
	if err != nil {
		return fmt.Errorf("failed to place character at location: %w", err)
	}
	return requireOneRow(result, id)
}

// PlaceOnShip sets presence to the interior of a docked ship.
func (r *Repository) PlaceOnShip(ctx context.Context, ex database.Executor, id string, shipID int64) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET current_ship_id = $2, current_location_id = NULL,
		    current_home_id = NULL, current_thread_id = NULL,
		    thread_location_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, shipID)
	if err != nil {
		return fmt.Errorf("failed to place character on ship: %w", err)
	}
	return requireOneRow(result, id)
}

// PlaceInHome sets presence to a home interior.
func (r *Repository) PlaceInHome(ctx context.Context, ex database.Executor, id string, homeID int64) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET current_home_id = $2, current_location_id = NULL,
		    current_ship_id = NULL, current_thread_id = NULL,
		    thread_location_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, homeID)
	if err != nil {
		return fmt.Errorf("failed to place character in home: %w", err)
	}
	return requireOneRow(result, id)
}

// PlaceInSubArea sets presence to a thread nested under a location.
func (r *Repository) PlaceInSubArea(ctx context.Context, ex database.Executor, id, threadID string, parentLocationID int64) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET current_thread_id = $2, thread_location_id = $3,
		    current_location_id = NULL, current_ship_id = NULL,
		    current_home_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, threadID, parentLocationID)
	if err != nil {
		return fmt.Errorf("failed to place character in sub-area: %w", err)
	}
	return requireOneRow(result, id)
}

// ClearPresence nulls every presence column (used when entering transit and
// on logout-to-offline).
func (r *Repository) ClearPresence(ctx context.Context, ex database.Executor, id string) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET current_location_id = NULL, current_ship_id = NULL,
		    current_home_id = NULL, current_thread_id = NULL,
		    thread_location_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return requireOneRow(result, id)
}

func (r *Repository) SetActiveShip(ctx context.Context, ex database.Executor, id string, shipID *int64) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters SET active_ship_id = $2, updated_at = NOW() WHERE id = $1
	`, id, shipID)
	if err != nil {
		return fmt.Errorf("failed to set active ship: %w", err)
	}
	return requireOneRow(result, id)
}

func (r *Repository) SetLoggedIn(ctx context.Context, id string, loggedIn bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE characters SET is_logged_in = $2, updated_at = NOW() WHERE id = $1
	`, id, loggedIn)
	if err != nil {
		return fmt.Errorf("failed to set logged-in flag: %w", err)
	}
	return nil
}

func (r *Repository) SetPanelMessage(ctx context.Context, id string, messageID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE characters SET panel_message_id = $2, updated_at = NOW() WHERE id = $1
	`, id, messageID)
	if err != nil {
		return fmt.Errorf("failed to set panel message: %w", err)
	}
	return nil
}

// AdjustCredits applies a delta inside the caller's transaction, failing if
// the balance would go negative.
func (r *Repository) AdjustCredits(ctx context.Context, ex database.Executor, id string, delta int64) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE characters SET credits = credits + $2, updated_at = NOW()
		WHERE id = $1 AND credits + $2 >= 0
	`, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust credits: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check credit adjustment: %w", err)
	}
	if n == 0 {
		return errors.Validationf("insufficient credits")
	}
	return nil
}

// SetHP clamps and stores a character's hit points.
func (r *Repository) SetHP(ctx context.Context, ex database.Executor, id string, hp int) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE characters
		SET hp = GREATEST(0, LEAST($2, max_hp)), updated_at = NOW()
		WHERE id = $1
	`, id, hp)
	if err != nil {
		return fmt.Errorf("failed to set hp: %w", err)
	}
	return nil
}

func (r *Repository) SetGroup(ctx context.Context, ex database.Executor, id string, groupID *int64) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE characters SET group_id = $2, updated_at = NOW() WHERE id = $1
	`, id, groupID)
	if err != nil {
		return fmt.Errorf("failed to set group: %w", err)
	}
	return nil
}

// GetLoggedIn returns every logged-in character, used to rebuild the
// presence index at boot.
func (r *Repository) GetLoggedIn(ctx context.Context) ([]Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE is_logged_in = true`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query logged-in characters: %w", err)
	}
	defer rows.Close()

	var characters []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		characters = append(characters, *c)
	}
	return characters, rows.Err()
}

func (r *Repository) CountLoggedIn(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM characters WHERE is_logged_in = true`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count logged-in characters: %w", err)
	}
	return count, nil
}

// Delete removes the character row inside the caller's transaction. The
// service is responsible for the full cascade around this call.
func (r *Repository) Delete(ctx context.Context, ex database.Executor, id string) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `DELETE FROM characters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete character: %w", err)
	}
	return nil
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return errors.NotFoundf("character %s not found", id)
	}
	return nil
}
