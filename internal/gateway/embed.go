package gateway

// Embed is the platform-neutral rich message the engine posts. Only the
// fields the platform contract names are carried.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
	Color       int
	Footer      string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed colors used across the engine's notifications.
const (
	ColorArrival   = 0x2e8b57
	ColorDeparture = 0x708090
	ColorTransit   = 0x4169e1
	ColorDanger    = 0xb22222
	ColorNews      = 0xdaa520
	ColorNeutral   = 0x95a5a6
)
