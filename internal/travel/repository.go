package travel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/presence"
	"quietend-server/internal/ship"
	"quietend-server/internal/shared/database"
	"quietend-server/internal/shared/errors"
)

// Repository implements Store over Postgres. Multi-table transitions run
// in a single transaction so a failed leg leaves fuel and presence intact.
type Repository struct {
	db         *database.DB
	characters *character.Repository
	ships      *ship.Repository
}

func NewRepository(db *database.DB, characters *character.Repository, ships *ship.Repository) *Repository {
	logger := slog.With("component", "travel_repository", "operation", "init")
	logger.Debug("Initializing travel repository")
	return &Repository{db: db, characters: characters, ships: ships}
}

const sessionColumns = `
	id, user_id, group_id, origin_location_id, destination_location_id,
	corridor_id, transit_channel_id, started_at, end_at, status
`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.GroupID, &s.OriginID, &s.DestinationID,
		&s.CorridorID, &s.TransitChannelID, &s.StartedAt, &s.EndAt, &s.Status,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) TravelerSnapshot(ctx context.Context, userID string) (*Traveler, error) {
	query := `
		SELECT c.id, c.name, c.level, c.hp,
		       c.current_location_id, c.location_status, c.group_id, c.is_logged_in,
		       COALESCE(s.id, 0), COALESCE(s.name, ''), COALESCE(s.fuel, 0), COALESCE(s.fuel_efficiency, 0),
		       EXISTS (
		           SELECT 1 FROM travel_sessions ts
		           WHERE ts.user_id = c.id AND ts.status IN ('traveling', 'diverted')
		       ),
		       (SELECT tb.banned_until FROM travel_bans tb
		        WHERE tb.user_id = c.id AND tb.banned_until > NOW()
		        ORDER BY tb.banned_until DESC LIMIT 1)
		FROM characters c
		LEFT JOIN ships s ON s.id = c.active_ship_id
		WHERE c.id = $1`

	var t Traveler
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&t.UserID, &t.Name, &t.Level, &t.HP,
		&t.LocationID, &t.LocationStatus, &t.GroupID, &t.IsLoggedIn,
		&t.ShipID, &t.ShipName, &t.Fuel, &t.FuelEfficiency,
		&t.HasActiveSession,
		&t.TravelBannedUntil,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("character %s not found", userID)
		}
		return nil, fmt.Errorf("failed to snapshot traveler: %w", err)
	}
	return &t, nil
}

const corridorQuery = `
		SELECT co.id, co.name,
		       co.origin_id, o.name, o.type,
		       co.destination_id, d.name, d.type,
		       co.travel_time_sec, co.fuel_cost, co.danger_level, co.kind, co.is_active
		FROM corridors co
		JOIN locations o ON o.id = co.origin_id
		JOIN locations d ON d.id = co.destination_id
		WHERE co.id = $1`

func (r *Repository) Corridor(ctx context.Context, corridorID int64) (*Corridor, error) {
	var c Corridor
	err := r.db.QueryRowContext(ctx, corridorQuery, corridorID).Scan(
		&c.ID, &c.Name,
		&c.OriginID, &c.OriginName, &c.OriginType,
		&c.DestinationID, &c.DestName, &c.DestType,
		&c.TravelTimeSec, &c.FuelCost, &c.DangerLevel, &c.Kind, &c.IsActive,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("corridor %d not found", corridorID)
		}
		return nil, fmt.Errorf("failed to get corridor: %w", err)
	}
	return &c, nil
}

func (r *Repository) LocationType(ctx context.Context, locationID int64) (galaxy.LocationType, error) {
	var t galaxy.LocationType
	err := r.db.QueryRowContext(ctx, `SELECT type FROM locations WHERE id = $1`, locationID).Scan(&t)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errors.NotFoundf("location %d not found", locationID)
		}
		return "", fmt.Errorf("failed to get location type: %w", err)
	}
	return t, nil
}

func (r *Repository) CorridorEvents(ctx context.Context, corridorID int64) ([]HazardEvent, error) {
	query := `
		SELECT e.id, e.corridor_id, e.kind, e.at_fraction, e.damage,
		       COALESCE(e.divert_to_location_id, 0), COALESCE(l.name, ''), e.description
		FROM corridor_events e
		LEFT JOIN locations l ON l.id = e.divert_to_location_id
		WHERE e.corridor_id = $1
		ORDER BY e.at_fraction ASC`

	rows, err := r.db.QueryContext(ctx, query, corridorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get corridor events: %w", err)
	}
	defer rows.Close()

	var events []HazardEvent
	for rows.Next() {
		var e HazardEvent
		if err := rows.Scan(
			&e.ID, &e.CorridorID, &e.Kind, &e.AtFraction, &e.Damage,
			&e.DivertToID, &e.DivertToName, &e.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan corridor event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) BeginTravel(ctx context.Context, leg BeginLeg) (*Session, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := r.beginLeg(ctx, tx, leg)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit travel start: %w", err)
	}
	return session, nil
}

func (r *Repository) BeginGroupTravel(ctx context.Context, legs []BeginLeg) ([]Session, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sessions := make([]Session, 0, len(legs))
	for _, leg := range legs {
		session, err := r.beginLeg(ctx, tx, leg)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group travel start: %w", err)
	}
	return sessions, nil
}

func (r *Repository) beginLeg(ctx context.Context, tx *database.Tx, leg BeginLeg) (*Session, error) {
	if err := r.ships.DeductFuel(ctx, tx, leg.ShipID, leg.FuelCost); err != nil {
		return nil, err
	}
	if err := r.ships.SetDockedAt(ctx, tx, leg.ShipID, nil); err != nil {
		return nil, err
	}
	if err := r.characters.ClearPresence(ctx, tx, leg.UserID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO travel_sessions (
			id, user_id, group_id, origin_location_id, destination_location_id,
			corridor_id, started_at, end_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'traveling')
		RETURNING ` + sessionColumns

	session, err := scanSession(tx.QueryRowContext(ctx, query,
		leg.SessionID, leg.UserID, leg.GroupID, leg.OriginID, leg.DestinationID,
		leg.CorridorID, leg.StartedAt, leg.EndAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert travel session: %w", err)
	}
	return session, nil
}

func (r *Repository) Session(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM travel_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("travel session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to get travel session: %w", err)
	}
	return s, nil
}

func (r *Repository) ActiveSessionForUser(ctx context.Context, userID string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM travel_sessions
		WHERE user_id = $1 AND status IN ('traveling', 'diverted')
		ORDER BY started_at DESC LIMIT 1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("no active travel session for %s", userID)
		}
		return nil, fmt.Errorf("failed to get active travel session: %w", err)
	}
	return s, nil
}

func (r *Repository) SetTransitChannel(ctx context.Context, sessionID, channelID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE travel_sessions SET transit_channel_id = $2 WHERE id = $1
	`, sessionID, channelID)
	if err != nil {
		return fmt.Errorf("failed to set transit channel: %w", err)
	}
	return nil
}

// CompleteArrival is the winning side of the arrival race. The conditional
// UPDATE is the lock: once a row leaves the in-flight statuses nothing
// else may arrive it.
func (r *Repository) CompleteArrival(ctx context.Context, sessionID string, destinationID int64) (bool, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE travel_sessions SET status = 'arrived'
		WHERE id = $1 AND status IN ('traveling', 'diverted')
		RETURNING user_id
	`, sessionID).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to complete arrival: %w", err)
	}

	if err := r.characters.PlaceAtLocation(ctx, tx, userID, destinationID, character.StatusInSpace); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit arrival: %w", err)
	}
	return true, nil
}

func (r *Repository) Terminate(ctx context.Context, sessionID string, status Status, returnTo *int64, refundFuel int) (bool, error) {
	tx, err := r.db.BeginTxContext(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE travel_sessions SET status = $2
		WHERE id = $1 AND status IN ('traveling', 'diverted')
		RETURNING user_id
	`, sessionID, status).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to terminate travel session: %w", err)
	}

	if returnTo != nil {
		if err := r.characters.PlaceAtLocation(ctx, tx, userID, *returnTo, character.StatusInSpace); err != nil {
			return false, err
		}
	}
	if refundFuel > 0 {
		var shipID sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT active_ship_id FROM characters WHERE id = $1
		`, userID).Scan(&shipID)
		if err != nil {
			return false, fmt.Errorf("failed to look up ship for refund: %w", err)
		}
		if shipID.Valid {
			if err := r.ships.RefundFuel(ctx, tx, shipID.Int64, refundFuel); err != nil {
				return false, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit travel termination: %w", err)
	}
	return true, nil
}

func (r *Repository) Divert(ctx context.Context, sessionID string, newDestinationID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE travel_sessions
		SET destination_location_id = $2, status = 'diverted'
		WHERE id = $1 AND status = 'traveling'
	`, sessionID, newDestinationID)
	if err != nil {
		return false, fmt.Errorf("failed to divert travel session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check diversion: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) ApplyShipDamage(ctx context.Context, shipID int64, amount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ships SET hull = GREATEST(1, hull - $2), updated_at = NOW()
		WHERE id = $1
	`, shipID, amount)
	if err != nil {
		return fmt.Errorf("failed to apply ship damage: %w", err)
	}
	return nil
}

func (r *Repository) SetGroupLocation(ctx context.Context, groupID, locationID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE groups SET current_location_id = $2, updated_at = NOW()
		WHERE id = $1
	`, groupID, locationID)
	if err != nil {
		return fmt.Errorf("failed to set group location: %w", err)
	}
	return nil
}

func (r *Repository) Orphans(ctx context.Context, cutoff time.Time) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM travel_sessions
		WHERE status IN ('traveling', 'diverted') AND end_at < $1
		ORDER BY end_at ASC`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphaned session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *Repository) TravelingRefs(ctx context.Context) ([]presence.TravelRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, destination_location_id FROM travel_sessions
		WHERE status IN ('traveling', 'diverted')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list traveling sessions: %w", err)
	}
	defer rows.Close()

	var refs []presence.TravelRef
	for rows.Next() {
		var ref presence.TravelRef
		if err := rows.Scan(&ref.SessionID, &ref.UserID, &ref.DestinationID); err != nil {
			return nil, fmt.Errorf("failed to scan traveling session: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
