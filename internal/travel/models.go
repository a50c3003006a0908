// Package travel runs the corridor-transition state machine: fuel
// reservation, transit channels, timed arrival, hazards and group legs.
package travel

import (
	"context"
	"time"

	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/presence"
)

// Status is the travel-session state. The store row is authoritative;
// timers only act when they win the conditional status transition.
type Status string

const (
	StatusTraveling     Status = "traveling"
	StatusArrived       Status = "arrived"
	StatusDiverted      Status = "diverted"
	StatusRetreat       Status = "retreat"
	StatusDeath         Status = "character_death"
	StatusAdminTeleport Status = "admin_teleport"
	StatusEmergencyExit Status = "emergency_exit"
)

// IsTerminal reports whether no arrival may run for the session.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRetreat, StatusDeath, StatusAdminTeleport, StatusEmergencyExit, StatusArrived:
		return true
	}
	return false
}

// Session is one character's in-flight corridor leg.
type Session struct {
	ID               string
	UserID           string
	GroupID          *int64
	OriginID         int64
	DestinationID    int64
	CorridorID       int64
	TransitChannelID *string
	StartedAt        time.Time
	EndAt            time.Time
	Status           Status
}

// Corridor is the engine's view of an edge, joined with the endpoint
// locations it needs for channel refs and embeds.
type Corridor struct {
	ID            int64
	Name          string
	OriginID      int64
	OriginName    string
	OriginType    galaxy.LocationType
	DestinationID int64
	DestName      string
	DestType      galaxy.LocationType
	TravelTimeSec int
	FuelCost      int
	DangerLevel   int
	Kind          galaxy.CorridorKind
	IsActive      bool
}

// HazardEventKind is what a scheduled in-transit event does.
type HazardEventKind string

const (
	HazardDamage    HazardEventKind = "damage"
	HazardDiversion HazardEventKind = "diversion"
)

// HazardEvent fires at a fraction of the adjusted transit time.
type HazardEvent struct {
	ID             int64
	CorridorID     int64
	Kind           HazardEventKind
	AtFraction     float64 // 0 < f < 1 of the adjusted travel time
	Damage         int
	DivertToID     int64
	DivertToName   string
	Description    string
}

// Traveler is the validation snapshot for one prospective traveler.
type Traveler struct {
	UserID            string
	Name              string
	Level             int
	HP                int
	LocationID        *int64
	LocationStatus    character.LocationStatus
	GroupID           *int64
	ShipID            int64
	ShipName          string
	Fuel              int
	FuelEfficiency    int
	IsLoggedIn        bool
	HasActiveSession  bool
	TravelBannedUntil *time.Time
}

// BeginLeg is the per-traveler input to the travel transaction.
type BeginLeg struct {
	SessionID     string
	UserID        string
	GroupID       *int64
	ShipID        int64
	OriginID      int64
	DestinationID int64
	CorridorID    int64
	FuelCost      int
	StartedAt     time.Time
	EndAt         time.Time
}

// Store is the persistence surface of the engine. Every multi-table
// mutation is one transaction inside the implementation.
type Store interface {
	TravelerSnapshot(ctx context.Context, userID string) (*Traveler, error)
	Corridor(ctx context.Context, corridorID int64) (*Corridor, error)
	// LocationType resolves a destination's type so arrival can address
	// the right channel kind even after a diversion.
	LocationType(ctx context.Context, locationID int64) (galaxy.LocationType, error)
	CorridorEvents(ctx context.Context, corridorID int64) ([]HazardEvent, error)

	// BeginTravel atomically deducts fuel, clears the character's presence
	// columns, undocks the ship and inserts the traveling session row.
	BeginTravel(ctx context.Context, leg BeginLeg) (*Session, error)
	// BeginGroupTravel is BeginTravel for every leg or none of them.
	BeginGroupTravel(ctx context.Context, legs []BeginLeg) ([]Session, error)

	Session(ctx context.Context, sessionID string) (*Session, error)
	ActiveSessionForUser(ctx context.Context, userID string) (*Session, error)
	SetTransitChannel(ctx context.Context, sessionID, channelID string) error

	// CompleteArrival conditionally moves the session to arrived and
	// places the character (and their ship) at the destination. Returns
	// false without error when a terminal status won the race.
	CompleteArrival(ctx context.Context, sessionID string, destinationID int64) (bool, error)
	// Terminate conditionally sets a terminal status. When returnTo is
	// non-nil the character is placed back at that location in space and
	// refundFuel is returned to their ship.
	Terminate(ctx context.Context, sessionID string, status Status, returnTo *int64, refundFuel int) (bool, error)
	// Divert retargets a traveling session.
	Divert(ctx context.Context, sessionID string, newDestinationID int64) (bool, error)

	ApplyShipDamage(ctx context.Context, shipID int64, amount int) error
	SetGroupLocation(ctx context.Context, groupID, locationID int64) error

	// Orphans returns sessions still traveling well past their end time.
	Orphans(ctx context.Context, cutoff time.Time) ([]Session, error)
	// TravelingRefs feeds the presence index rebuild.
	TravelingRefs(ctx context.Context) ([]presence.TravelRef, error)
}
