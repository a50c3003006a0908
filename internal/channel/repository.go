package channel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
)

// Repository implements Store over the channel bookkeeping columns of the
// locations, ships and location_homes tables.
type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	logger := slog.With("component", "channel_repository", "operation", "init")
	logger.Debug("Initializing channel repository")
	return &Repository{db: db}
}

func kindFor(locationType string) gateway.ChannelKind {
	switch locationType {
	case "station":
		return gateway.KindStation
	case "outpost":
		return gateway.KindOutpost
	case "gate":
		return gateway.KindGate
	default:
		return gateway.KindColony
	}
}

func (r *Repository) Entity(ctx context.Context, ref EntityRef) (*EntityInfo, error) {
	switch ref.Kind {
	case gateway.KindShip:
		return r.shipEntity(ctx, ref)
	case gateway.KindHome:
		return r.homeEntity(ctx, ref)
	default:
		return r.locationEntity(ctx, ref)
	}
}

func (r *Repository) locationEntity(ctx context.Context, ref EntityRef) (*EntityInfo, error) {
	var info EntityInfo
	info.Ref = ref
	err := r.db.QueryRowContext(ctx, `
		SELECT name, description, services, wealth, channel_id, channel_last_active
		FROM locations WHERE id = $1
	`, ref.ID).Scan(&info.Name, &info.Description, &info.Services, &info.Wealth, &info.ChannelID, &info.LastActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("location %d not found", ref.ID)
		}
		return nil, fmt.Errorf("failed to load location entity: %w", err)
	}
	return &info, nil
}

func (r *Repository) shipEntity(ctx context.Context, ref EntityRef) (*EntityInfo, error) {
	var info EntityInfo
	info.Ref = ref
	err := r.db.QueryRowContext(ctx, `
		SELECT name, type, channel_id, channel_last_active
		FROM ships WHERE id = $1
	`, ref.ID).Scan(&info.Name, &info.Description, &info.ChannelID, &info.LastActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("ship %d not found", ref.ID)
		}
		return nil, fmt.Errorf("failed to load ship entity: %w", err)
	}
	return &info, nil
}

func (r *Repository) homeEntity(ctx context.Context, ref EntityRef) (*EntityInfo, error) {
	var info EntityInfo
	info.Ref = ref
	err := r.db.QueryRowContext(ctx, `
		SELECT name, interior_description, channel_id, channel_last_active
		FROM location_homes WHERE id = $1
	`, ref.ID).Scan(&info.Name, &info.Description, &info.ChannelID, &info.LastActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("home %d not found", ref.ID)
		}
		return nil, fmt.Errorf("failed to load home entity: %w", err)
	}
	return &info, nil
}

func (r *Repository) tableFor(kind gateway.ChannelKind) string {
	switch kind {
	case gateway.KindShip:
		return "ships"
	case gateway.KindHome:
		return "location_homes"
	default:
		return "locations"
	}
}

func (r *Repository) SetChannel(ctx context.Context, ref EntityRef, channelID *string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET channel_id = $2, channel_last_active = NOW() WHERE id = $1
	`, r.tableFor(ref.Kind))

	_, err := r.db.ExecContext(ctx, query, ref.ID, channelID)
	if err != nil {
		return fmt.Errorf("failed to set channel reference: %w", err)
	}
	return nil
}

func (r *Repository) TouchActivity(ctx context.Context, ref EntityRef, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET channel_last_active = $2 WHERE id = $1
	`, r.tableFor(ref.Kind))

	_, err := r.db.ExecContext(ctx, query, ref.ID, at)
	if err != nil {
		return fmt.Errorf("failed to touch channel activity: %w", err)
	}
	return nil
}

func (r *Repository) ActiveLocationChannels(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, channel_id, channel_last_active
		FROM locations
		WHERE channel_id IS NOT NULL
		ORDER BY channel_last_active ASC NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active location channels: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			id         int64
			locType    string
			channelID  string
			lastActive sql.NullTime
		)
		if err := rows.Scan(&id, &locType, &channelID, &lastActive); err != nil {
			return nil, fmt.Errorf("failed to scan channel record: %w", err)
		}
		records = append(records, Record{
			Ref:        EntityRef{Kind: kindFor(locType), ID: id},
			ChannelID:  channelID,
			LastActive: lastActive.Time,
		})
	}
	return records, rows.Err()
}

func (r *Repository) ActiveInteriorChannels(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, 'ship' AS kind, channel_id, channel_last_active FROM ships WHERE channel_id IS NOT NULL
		UNION ALL
		SELECT id, 'home' AS kind, channel_id, channel_last_active FROM location_homes WHERE channel_id IS NOT NULL
		ORDER BY channel_last_active ASC NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active interior channels: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			id         int64
			kind       string
			channelID  string
			lastActive sql.NullTime
		)
		if err := rows.Scan(&id, &kind, &channelID, &lastActive); err != nil {
			return nil, fmt.Errorf("failed to scan interior channel record: %w", err)
		}
		ref := EntityRef{ID: id, Kind: gateway.KindShip}
		if kind == "home" {
			ref.Kind = gateway.KindHome
		}
		records = append(records, Record{Ref: ref, ChannelID: channelID, LastActive: lastActive.Time})
	}
	return records, rows.Err()
}

func (r *Repository) PanelMessage(ctx context.Context, userID string) (*string, error) {
	var msgID *string
	err := r.db.QueryRowContext(ctx,
		`SELECT panel_message_id FROM characters WHERE id = $1`, userID,
	).Scan(&msgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get panel message: %w", err)
	}
	return msgID, nil
}

func (r *Repository) SetPanelMessage(ctx context.Context, userID string, messageID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE characters SET panel_message_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, messageID)
	if err != nil {
		return fmt.Errorf("failed to set panel message: %w", err)
	}
	return nil
}
