package galaxy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quietend-server/internal/shared/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	logger := slog.With("component", "galaxy_repository", "operation", "init")
	logger.Debug("Initializing galaxy repository")
	return &Repository{db: db}
}

const locationColumns = `
	id, name, type, x, y, wealth, faction, services, population, description,
	is_galactic_center, channel_id, channel_last_active, created_at
`

func scanLocation(row interface{ Scan(...interface{}) error }) (*Location, error) {
	var loc Location
	err := row.Scan(
		&loc.ID,
		&loc.Name,
		&loc.Type,
		&loc.X,
		&loc.Y,
		&loc.Wealth,
		&loc.Faction,
		&loc.Services,
		&loc.Population,
		&loc.Description,
		&loc.IsGalacticCenter,
		&loc.ChannelID,
		&loc.ChannelLastActive,
		&loc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *Repository) GetLocationByID(ctx context.Context, id int64) (*Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`

	loc, err := scanLocation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("location %d not found", id)
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return loc, nil
}

func (r *Repository) GetAllLocations(ctx context.Context) ([]Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, *loc)
	}
	return locations, rows.Err()
}

func (r *Repository) GetCorridorByID(ctx context.Context, id int64) (*Corridor, error) {
	query := `
		SELECT id, origin_id, destination_id, name, travel_time_sec, fuel_cost,
		       danger_level, is_active, kind
		FROM corridors
		WHERE id = $1
	`

	var c Corridor
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.OriginID,
		&c.DestinationID,
		&c.Name,
		&c.TravelTimeSec,
		&c.FuelCost,
		&c.DangerLevel,
		&c.IsActive,
		&c.Kind,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("corridor %d not found", id)
		}
		return nil, fmt.Errorf("failed to get corridor: %w", err)
	}
	return &c, nil
}

// GetCorridorsFrom returns the active outbound routes of a location.
func (r *Repository) GetCorridorsFrom(ctx context.Context, originID int64) ([]Corridor, error) {
	query := `
		SELECT id, origin_id, destination_id, name, travel_time_sec, fuel_cost,
		       danger_level, is_active, kind
		FROM corridors
		WHERE origin_id = $1 AND is_active = true
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, originID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corridors: %w", err)
	}
	defer rows.Close()

	var corridors []Corridor
	for rows.Next() {
		var c Corridor
		if err := rows.Scan(
			&c.ID, &c.OriginID, &c.DestinationID, &c.Name, &c.TravelTimeSec,
			&c.FuelCost, &c.DangerLevel, &c.IsActive, &c.Kind,
		); err != nil {
			return nil, fmt.Errorf("failed to scan corridor: %w", err)
		}
		corridors = append(corridors, c)
	}
	return corridors, rows.Err()
}

// GetGalacticCenterID returns the id of the location flagged as the
// galactic center, used to derive news propagation delays.
func (r *Repository) GetGalacticCenterID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM locations WHERE is_galactic_center = true LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errors.NotFoundf("galaxy has no galactic center")
		}
		return 0, fmt.Errorf("failed to get galactic center: %w", err)
	}
	return id, nil
}
