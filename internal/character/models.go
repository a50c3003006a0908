package character

import "time"

// LocationStatus distinguishes a character standing on the ground from one
// holding position in space at the same location.
type LocationStatus string

const (
	StatusDocked  LocationStatus = "docked"
	StatusInSpace LocationStatus = "in_space"
)

// Character is the player avatar. The presence columns are mutually
// exclusive: at most one of CurrentLocationID, CurrentShipID, CurrentHomeID
// and CurrentThreadID is set, and an in-transit character has all of them
// null with exactly one traveling session row.
type Character struct {
	ID       string // chat-platform user id
	Name     string
	Callsign string

	HP          int
	MaxHP       int
	Credits     int64
	XP          int
	Level       int
	SkillPoints int
	Engineering int
	Navigation  int
	Combat      int
	Medical     int

	CurrentLocationID *int64
	LocationStatus    LocationStatus
	CurrentShipID     *int64
	CurrentHomeID     *int64
	CurrentThreadID   *string
	ThreadLocationID  *int64

	ActiveShipID   *int64
	GroupID        *int64
	PanelMessageID *string

	IsLoggedIn bool
	AutoRename bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAlive reports whether the character can act.
func (c *Character) IsAlive() bool {
	return c.HP > 0
}
