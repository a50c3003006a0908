// Package channel owns the lifecycle of every chat channel the game
// creates: per-location, per-ship-interior, per-home and per-transit.
// Channels are created on first need, guarded by per-user permission
// overwrites, and reclaimed when nobody is left to read them.
package channel

import (
	"context"
	"time"

	"quietend-server/internal/gateway"
)

// EntityRef identifies the game entity a channel represents.
type EntityRef struct {
	Kind gateway.ChannelKind
	ID   int64
}

// EntityInfo is what the manager needs to create and describe a channel.
type EntityInfo struct {
	Ref         EntityRef
	Name        string
	Description string
	ChannelID   *string
	LastActive  *time.Time
	// Location context for the welcome embed (services, wealth) when the
	// entity is a location; zero otherwise.
	Services int
	Wealth   int
}

// Record is one live channel as seen by the budget and sweep passes.
type Record struct {
	Ref        EntityRef
	ChannelID  string
	LastActive time.Time
}

// Store is the persistence surface the manager mutates. Implemented by
// Repository against the locations/ships/location_homes tables and by an
// in-memory store in tests.
type Store interface {
	Entity(ctx context.Context, ref EntityRef) (*EntityInfo, error)
	SetChannel(ctx context.Context, ref EntityRef, channelID *string) error
	TouchActivity(ctx context.Context, ref EntityRef, at time.Time) error
	// ActiveLocationChannels returns every location row holding a channel,
	// oldest activity first.
	ActiveLocationChannels(ctx context.Context) ([]Record, error)
	// ActiveInteriorChannels returns ship and home rows holding a channel.
	ActiveInteriorChannels(ctx context.Context) ([]Record, error)
	PanelMessage(ctx context.Context, userID string) (*string, error)
	SetPanelMessage(ctx context.Context, userID string, messageID *string) error
}
