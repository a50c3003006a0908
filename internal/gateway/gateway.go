// Package gateway is the narrow seam between the game engine and the chat
// platform. The engine only ever creates/deletes channels, flips per-user
// permission overwrites, and posts embeds; everything else the platform
// offers is out of bounds.
package gateway

import (
	"context"
	"errors"
)

// ErrNotFound reports that a channel or message no longer exists on the
// platform. Callers repair their stored reference and continue.
var ErrNotFound = errors.New("gateway: not found")

// CategorySlot names the per-guild category a channel kind lives under.
type CategorySlot string

const (
	SlotColony        CategorySlot = "colony"
	SlotStation       CategorySlot = "station"
	SlotOutpost       CategorySlot = "outpost"
	SlotGate          CategorySlot = "gate"
	SlotTransit       CategorySlot = "transit"
	SlotShipInteriors CategorySlot = "ship_interiors"
	SlotResidences    CategorySlot = "residences"
)

// Access is a per-user permission overwrite. Channels are never opened to
// everyone; presence is enforced one overwrite at a time.
type Access struct {
	Read  bool
	Write bool
}

// UserAccess pairs a user with their overwrite for channel creation.
type UserAccess struct {
	UserID string
	Access Access
}

// Gateway is the chat-platform interface the engine consumes.
type Gateway interface {
	CreateChannel(ctx context.Context, guildID, categoryID, name, topic string, access []UserAccess) (string, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	SetUserAccess(ctx context.Context, channelID, userID string, access Access) error
	ClearUserAccess(ctx context.Context, channelID, userID string) error
	Send(ctx context.Context, channelID string, embed Embed) (string, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FindCategory(ctx context.Context, guildID string, slot CategorySlot) (string, error)
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	// OpenDM returns the direct-message channel for a user, creating it if
	// the platform has not materialized one yet.
	OpenDM(ctx context.Context, userID string) (string, error)
	// CreateThread opens a thread under a parent channel (sub-areas).
	CreateThread(ctx context.Context, parentChannelID, name string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}
