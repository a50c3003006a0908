package channel

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/presence"
	"quietend-server/internal/shared/errors"
)

// SubArea is a thread nested under a location channel, such as a market
// district. Created on first entry, deleted when the last occupant leaves.
type SubArea struct {
	ID         int64     `json:"id"`
	LocationID int64     `json:"location_id"`
	Name       string    `json:"name"`
	ThreadID   string    `json:"thread_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type SubAreaStore interface {
	SubAreaByName(ctx context.Context, locationID int64, name string) (*SubArea, error)
	SubAreaByThread(ctx context.Context, threadID string) (*SubArea, error)
	CreateSubArea(ctx context.Context, locationID int64, name, threadID string) (*SubArea, error)
	DeleteSubArea(ctx context.Context, id int64) error
}

// SubAreas runs the thread lifecycle under location channels.
type SubAreas struct {
	gw       gateway.Gateway
	manager  *Manager
	store    SubAreaStore
	presence *presence.Index
	logger   *slog.Logger
}

func NewSubAreas(gw gateway.Gateway, manager *Manager, store SubAreaStore, idx *presence.Index) *SubAreas {
	return &SubAreas{
		gw:       gw,
		manager:  manager,
		store:    store,
		presence: idx,
		logger:   slog.With("component", "sub_areas"),
	}
}

// Enter returns the thread id for a named sub-area under a location,
// creating the thread on first entry.
func (s *SubAreas) Enter(ctx context.Context, locationRef EntityRef, name string) (string, error) {
	existing, err := s.store.SubAreaByName(ctx, locationRef.ID, name)
	if err == nil {
		return existing.ThreadID, nil
	}
	if errors.GetType(err) != errors.ErrorTypeNotFound {
		return "", err
	}

	parentID, err := s.manager.EnsureChannel(ctx, locationRef)
	if err != nil {
		return "", err
	}
	threadID, err := s.gw.CreateThread(ctx, parentID, name)
	if err != nil {
		return "", errors.WrapGatewayTransient("failed to create sub-area thread", err)
	}

	created, err := s.store.CreateSubArea(ctx, locationRef.ID, name, threadID)
	if err != nil {
		return "", err
	}
	s.logger.Info("Sub-area created",
		"location_id", locationRef.ID, "name", name, "thread_id", created.ThreadID)
	return created.ThreadID, nil
}

// CheckEmpty deletes the sub-area when its last occupant has left. Call
// after the presence index reflects the departure.
func (s *SubAreas) CheckEmpty(ctx context.Context, threadID string) error {
	if len(s.presence.ThreadOccupants(threadID)) > 0 {
		return nil
	}

	sa, err := s.store.SubAreaByThread(ctx, threadID)
	if err != nil {
		if errors.GetType(err) == errors.ErrorTypeNotFound {
			return nil
		}
		return err
	}

	if err := s.gw.DeleteThread(ctx, threadID); err != nil && !stderrors.Is(err, gateway.ErrNotFound) {
		return errors.WrapGatewayTransient("failed to delete sub-area thread", err)
	}
	if err := s.store.DeleteSubArea(ctx, sa.ID); err != nil {
		return err
	}
	s.logger.Info("Sub-area removed", "location_id", sa.LocationID, "name", sa.Name)
	return nil
}

// Store-backed sub_areas rows.

const subAreaColumns = `id, location_id, name, thread_id, created_at`

func scanSubArea(row interface{ Scan(...interface{}) error }) (*SubArea, error) {
	var sa SubArea
	err := row.Scan(&sa.ID, &sa.LocationID, &sa.Name, &sa.ThreadID, &sa.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *Repository) SubAreaByName(ctx context.Context, locationID int64, name string) (*SubArea, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subAreaColumns+` FROM sub_areas WHERE location_id = $1 AND name = $2`,
		locationID, name,
	)
	sa, err := scanSubArea(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("no sub-area %q at location %d", name, locationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-area: %w", err)
	}
	return sa, nil
}

func (r *Repository) SubAreaByThread(ctx context.Context, threadID string) (*SubArea, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subAreaColumns+` FROM sub_areas WHERE thread_id = $1`,
		threadID,
	)
	sa, err := scanSubArea(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("no sub-area for thread %s", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-area by thread: %w", err)
	}
	return sa, nil
}

func (r *Repository) CreateSubArea(ctx context.Context, locationID int64, name, threadID string) (*SubArea, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO sub_areas (location_id, name, thread_id)
		 VALUES ($1, $2, $3)
		 RETURNING `+subAreaColumns,
		locationID, name, threadID,
	)
	sa, err := scanSubArea(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-area: %w", err)
	}
	return sa, nil
}

func (r *Repository) DeleteSubArea(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sub_areas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sub-area: %w", err)
	}
	return nil
}
