package galaxy

import "time"

type LocationType string

const (
	LocationColony  LocationType = "colony"
	LocationStation LocationType = "station"
	LocationOutpost LocationType = "outpost"
	LocationGate    LocationType = "gate"
)

type Faction string

const (
	FactionLoyalist    Faction = "loyalist"
	FactionOutlaw      Faction = "outlaw"
	FactionIndependent Faction = "independent"
)

// Service bits for a location's services bitset.
const (
	ServiceFuel = 1 << iota
	ServiceRepair
	ServiceMedical
	ServiceShipyard
	ServiceJobBoard
	ServiceMarket
	ServiceHousing
)

// Location is a node in the galaxy graph. The channel columns track the
// live chat channel currently representing it, if any.
type Location struct {
	ID                int64
	Name              string
	Type              LocationType
	X                 float64
	Y                 float64
	Wealth            int
	Faction           Faction
	Services          int
	Population        int
	Description       string
	IsGalacticCenter  bool
	ChannelID         *string
	ChannelLastActive *time.Time
	CreatedAt         time.Time
}

// HasService reports whether the location offers a given service bit.
func (l *Location) HasService(bit int) bool {
	return l.Services&bit != 0
}

type CorridorKind string

const (
	CorridorGated         CorridorKind = "gated"
	CorridorUngated       CorridorKind = "ungated"
	CorridorLocalApproach CorridorKind = "local_approach"
)

// Corridor is a directed edge between two locations.
type Corridor struct {
	ID            int64
	OriginID      int64
	DestinationID int64
	Name          string
	TravelTimeSec int
	FuelCost      int
	DangerLevel   int
	IsActive      bool
	Kind          CorridorKind
}
