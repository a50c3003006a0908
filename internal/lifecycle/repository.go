package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/home"
	"quietend-server/internal/ship"
	"quietend-server/internal/shared/database"
)

// Starter ship loadout for new characters.
const (
	starterShipType       = "shuttle"
	starterFuelCap        = 100
	starterFuelEfficiency = 5
)

type Repository struct {
	db         *database.DB
	characters *character.Repository
	ships      *ship.Repository
	homes      *home.Repository
	galaxy     *galaxy.Repository
}

func NewRepository(db *database.DB, characters *character.Repository, ships *ship.Repository, homes *home.Repository, locations *galaxy.Repository) *Repository {
	logger := slog.With("component", "lifecycle_repository", "operation", "init")
	logger.Debug("Initializing lifecycle repository")
	return &Repository{db: db, characters: characters, ships: ships, homes: homes, galaxy: locations}
}

func (r *Repository) Character(ctx context.Context, id string) (*character.Character, error) {
	return r.characters.GetByID(ctx, id)
}

func (r *Repository) CreateCharacter(ctx context.Context, id, name, callsign string, startLocationID int64) (*character.Character, error) {
	return r.characters.Create(ctx, id, name, callsign, startLocationID)
}

func (r *Repository) CreateStarterShip(ctx context.Context, ownerID, name string, dockedAt int64) (*ship.Ship, error) {
	return r.ships.Create(ctx, ownerID, name, starterShipType, starterFuelCap, starterFuelEfficiency, dockedAt)
}

func (r *Repository) SetActiveShip(ctx context.Context, id string, shipID *int64) error {
	return r.characters.SetActiveShip(ctx, nil, id, shipID)
}

func (r *Repository) SetLoggedIn(ctx context.Context, id string, loggedIn bool) error {
	return r.characters.SetLoggedIn(ctx, id, loggedIn)
}

func (r *Repository) PlaceAtLocation(ctx context.Context, id string, locationID int64, status character.LocationStatus) error {
	return r.characters.PlaceAtLocation(ctx, nil, id, locationID, status)
}

func (r *Repository) PlaceOnShip(ctx context.Context, id string, shipID int64) error {
	return r.characters.PlaceOnShip(ctx, nil, id, shipID)
}

func (r *Repository) PlaceInHome(ctx context.Context, id string, homeID int64) error {
	return r.characters.PlaceInHome(ctx, nil, id, homeID)
}

func (r *Repository) PlaceInSubArea(ctx context.Context, id, threadID string, parentLocationID int64) error {
	return r.characters.PlaceInSubArea(ctx, nil, id, threadID, parentLocationID)
}

func (r *Repository) Ship(ctx context.Context, id int64) (*ship.Ship, error) {
	return r.ships.GetByID(ctx, id)
}

func (r *Repository) Home(ctx context.Context, id int64) (*home.Home, error) {
	return r.homes.GetByID(ctx, id)
}

func (r *Repository) LocationType(ctx context.Context, locationID int64) (galaxy.LocationType, error) {
	loc, err := r.galaxy.GetLocationByID(ctx, locationID)
	if err != nil {
		return "", err
	}
	return loc.Type, nil
}

func (r *Repository) DeleteCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.ships.DeleteByOwner(ctx, tx, id); err != nil {
		return err
	}
	if err := r.homes.ReleaseByOwner(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entry_invites WHERE from_user_id = $1 OR to_user_id = $1`, id,
	); err != nil {
		return fmt.Errorf("failed to delete entry invites: %w", err)
	}
	if err := r.characters.Delete(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

const entryInviteColumns = `id, kind, target_id, from_user_id, to_user_id, expires_at, created_at`

func (r *Repository) CreateEntryInvite(ctx context.Context, inv *EntryInvite) (*EntryInvite, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO entry_invites (id, kind, target_id, from_user_id, to_user_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+entryInviteColumns,
		inv.ID, inv.Kind, inv.TargetID, inv.FromUserID, inv.ToUserID, inv.ExpiresAt,
	)
	var created EntryInvite
	err := row.Scan(&created.ID, &created.Kind, &created.TargetID,
		&created.FromUserID, &created.ToUserID, &created.ExpiresAt, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry invite: %w", err)
	}
	return &created, nil
}

// ConsumeEntryInvite spends one live invitation; the delete doubles as the
// race decider when the same invite is used twice. Expired rows for the
// same target are cleared opportunistically.
func (r *Repository) ConsumeEntryInvite(ctx context.Context, kind EntryKind, targetID int64, toUserID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM entry_invites
		WHERE id IN (
			SELECT id FROM entry_invites
			WHERE kind = $1 AND target_id = $2 AND to_user_id = $3 AND expires_at > $4
			LIMIT 1
		)
	`, kind, targetID, toUserID, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume entry invite: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check entry invite: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM entry_invites WHERE expires_at <= $1`, now,
	); err != nil {
		return n > 0, fmt.Errorf("failed to clear expired invites: %w", err)
	}
	return n > 0, nil
}
