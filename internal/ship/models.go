package ship

import "time"

// Ship is owned by exactly one character. FuelEfficiency (1..10) shortens
// corridor transit time; DockedAtLocationID is derived state and only set
// while the ship sits at a location.
type Ship struct {
	ID                 int64
	OwnerID            string
	Name               string
	Type               string
	Fuel               int
	FuelCap            int
	Hull               int
	HullMax            int
	ShipHP             int
	MaxShipHP          int
	CargoUsed          int
	CargoCap           int
	FuelEfficiency     int
	ChannelID          *string
	ChannelLastActive  *time.Time
	DockedAtLocationID *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
