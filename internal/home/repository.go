package home

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
	logger := slog.With("component", "home_repository", "operation", "init")
	logger.Debug("Initializing home repository")
	return &Repository{db: db}
}

const homeColumns = `
	id, owner_id, location_id, name, price, interior_description,
	storage_cap, channel_id, channel_last_active, created_at, updated_at
`

func scanHome(row interface{ Scan(...interface{}) error }) (*Home, error) {
	var h Home
	err := row.Scan(
		&h.ID, &h.OwnerID, &h.LocationID, &h.Name, &h.Price,
		&h.InteriorDescription, &h.StorageCap,
		&h.ChannelID, &h.ChannelLastActive, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Home, error) {
	query := `SELECT ` + homeColumns + ` FROM location_homes WHERE id = $1`

	h, err := scanHome(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("home %d not found", id)
		}
		return nil, fmt.Errorf("failed to get home: %w", err)
	}
	return h, nil
}

// GetVacantAtLocation returns unowned homes for the location welcome embed.
func (r *Repository) GetVacantAtLocation(ctx context.Context, locationID int64) ([]Home, error) {
	query := `
		SELECT ` + homeColumns + `
		FROM location_homes
		WHERE location_id = $1 AND owner_id IS NULL
		ORDER BY price
	`

	rows, err := r.db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vacant homes: %w", err)
	}
	defer rows.Close()

	var homes []Home
	for rows.Next() {
		h, err := scanHome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan home: %w", err)
		}
		homes = append(homes, *h)
	}
	return homes, rows.Err()
}

func (r *Repository) SetOwner(ctx context.Context, ex database.Executor, id int64, ownerID *string) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE location_homes SET owner_id = $2, updated_at = NOW() WHERE id = $1
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set home owner: %w", err)
	}
	return nil
}

func (r *Repository) SetChannel(ctx context.Context, id int64, channelID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE location_homes SET channel_id = $2, channel_last_active = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, channelID)
	if err != nil {
		return fmt.Errorf("failed to set home channel: %w", err)
	}
	return nil
}

// ReleaseByOwner vacates a character's homes inside the caller's
// transaction (character deletion cascade).
func (r *Repository) ReleaseByOwner(ctx context.Context, ex database.Executor, ownerID string) error {
	if ex == nil {
		ex = r.db
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE location_homes SET owner_id = NULL, updated_at = NOW() WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release homes: %w", err)
	}
	return nil
}
