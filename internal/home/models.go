package home

import "time"

// Home is a purchasable interior at a location. A vacant home has a nil
// OwnerID; its chat channel only exists while someone is inside.
type Home struct {
	ID                  int64
	OwnerID             *string
	LocationID          int64
	Name                string
	Price               int64
	InteriorDescription string
	StorageCap          int
	ChannelID           *string
	ChannelLastActive   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
