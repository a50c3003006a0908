package ship

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
	logger := slog.With("component", "ship_repository", "operation", "init")
	logger.Debug("Initializing ship repository")
	return &Repository{db: db}
}

const shipColumns = `
	id, owner_id, name, type, fuel, fuel_cap, hull, hull_max,
	ship_hp, max_ship_hp, cargo_used, cargo_cap, fuel_efficiency,
	channel_id, channel_last_active, docked_at_location_id,
	created_at, updated_at
`

func scanShip(row interface{ Scan(...interface{}) error }) (*Ship, error) {
	var s Ship
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.Type, &s.Fuel, &s.FuelCap,
		&s.Hull, &s.HullMax, &s.ShipHP, &s.MaxShipHP,
		&s.CargoUsed, &s.CargoCap, &s.FuelEfficiency,
		&s.ChannelID, &s.ChannelLastActive, &s.DockedAtLocationID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Ship, error) {
	query := `SELECT ` + shipColumns + ` FROM ships WHERE id = $1`

	s, err := scanShip(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("ship %d not found", id)
		}
		return nil, fmt.Errorf("failed to get ship: %w", err)
	}
	return s, nil
}

func (r *Repository) Create(ctx context.Context, ownerID, name, shipType string, fuelCap, fuelEfficiency int, dockedAt int64) (*Ship, error) {
	logger := slog.With(
		"component", "ship_repository",
		"operation", "create",
		"owner_id", ownerID,
		"name", name,
	)
	logger.Info("Creating ship")

	query := `
		INSERT INTO ships (
			owner_id, name, type, fuel, fuel_cap, hull, hull_max,
			ship_hp, max_ship_hp, cargo_used, cargo_cap, fuel_efficiency,
			docked_at_location_id
		)
		VALUES ($1, $2, $3, $4, $4, 100, 100, 100, 100, 0, 50, $5, $6)
		RETURNING ` + shipColumns

	s, err := scanShip(r.db.QueryRowContext(ctx, query, ownerID, name, shipType, fuelCap, fuelEfficiency, dockedAt))
	if err != nil {
		logger.Error("Failed to create ship", "error", err)
		return nil, fmt.Errorf("failed to create ship: %w", err)
	}

	logger.Info("Ship created successfully", "ship_id", s.ID)
	return s, nil
}

// DeductFuel subtracts fuel inside the caller's transaction, failing with a
// validation error when the tank is short. This is the only fuel-spending
// path, so fuel is deducted iff the surrounding travel insert commits.
func (r *Repository) DeductFuel(ctx context.Context, ex database.Executor, id int64, amount int) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE ships SET fuel = fuel - $2, updated_at = NOW()
		WHERE id = $1 AND fuel >= $2
	`, id, amount)
	if err != nil {
		return fmt.Errorf("failed to deduct fuel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check fuel deduction: %w", err)
	}
	if n == 0 {
		return errors.Validationf("insufficient fuel")
	}
	return nil
}

// RefundFuel returns fuel inside the caller's transaction, capped at the tank.
func (r *Repository) RefundFuel(ctx context.Context, ex database.Executor, id int64, amount int) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE ships SET fuel = LEAST(fuel_cap, fuel + $2), updated_at = NOW()
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return fmt.Errorf("failed to refund fuel: %w", err)
	}
	return nil
}

func (r *Repository) SetDockedAt(ctx context.Context, ex database.Executor, id int64, locationID *int64) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE ships SET docked_at_location_id = $2, updated_at = NOW() WHERE id = $1
	`, id, locationID)
	if err != nil {
		return fmt.Errorf("failed to set docked location: %w", err)
	}
	return nil
}

func (r *Repository) SetChannel(ctx context.Context, id int64, channelID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ships SET channel_id = $2, channel_last_active = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, channelID)
	if err != nil {
		return fmt.Errorf("failed to set ship channel: %w", err)
	}
	return nil
}

// DeleteByOwner removes a character's ships inside the caller's transaction
// (character deletion cascade).
func (r *Repository) DeleteByOwner(ctx context.Context, ex database.Executor, ownerID string) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `DELETE FROM ships WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete ships: %w", err)
	}
	return nil
}
