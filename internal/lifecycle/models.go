// Package lifecycle runs character lifecycle and movement between the
// interior spaces of a location: creation, login and logout, deletion with
// its cascade, and entering or leaving ships, homes and sub-areas.
package lifecycle

import (
	"context"
	"time"

	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/home"
	"quietend-server/internal/ship"
)

// EntryKind tags an interior-entry invitation.
type EntryKind string

const (
	EntryShip EntryKind = "ship"
	EntryHome EntryKind = "home"
)

// EntryInvite lets a non-owner board a ship or enter a home. Single use,
// absolute expiry.
type EntryInvite struct {
	ID         string    `json:"id"`
	Kind       EntryKind `json:"kind"`
	TargetID   int64     `json:"target_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence surface the service needs.
type Store interface {
	Character(ctx context.Context, id string) (*character.Character, error)
	CreateCharacter(ctx context.Context, id, name, callsign string, startLocationID int64) (*character.Character, error)
	CreateStarterShip(ctx context.Context, ownerID, name string, dockedAt int64) (*ship.Ship, error)
	SetActiveShip(ctx context.Context, id string, shipID *int64) error
	SetLoggedIn(ctx context.Context, id string, loggedIn bool) error

	PlaceAtLocation(ctx context.Context, id string, locationID int64, status character.LocationStatus) error
	PlaceOnShip(ctx context.Context, id string, shipID int64) error
	PlaceInHome(ctx context.Context, id string, homeID int64) error
	PlaceInSubArea(ctx context.Context, id, threadID string, parentLocationID int64) error

	Ship(ctx context.Context, id int64) (*ship.Ship, error)
	Home(ctx context.Context, id int64) (*home.Home, error)
	LocationType(ctx context.Context, locationID int64) (galaxy.LocationType, error)

	// DeleteCascade removes the character row together with their ships
	// and home ownerships in one transaction.
	DeleteCascade(ctx context.Context, id string) error

	CreateEntryInvite(ctx context.Context, inv *EntryInvite) (*EntryInvite, error)
	// ConsumeEntryInvite atomically spends a live invitation, reporting
	// whether one existed.
	ConsumeEntryInvite(ctx context.Context, kind EntryKind, targetID int64, toUserID string, now time.Time) (bool, error)
}
