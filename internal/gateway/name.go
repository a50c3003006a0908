package gateway

import (
	"strings"
)

// ChannelKind selects the name prefix for an engine-owned channel.
type ChannelKind string

const (
	KindColony  ChannelKind = "colony"
	KindStation ChannelKind = "station"
	KindOutpost ChannelKind = "outpost"
	KindGate    ChannelKind = "gate"
	KindShip    ChannelKind = "ship"
	KindHome    ChannelKind = "home"
	KindTransit ChannelKind = "transit"
)

func (k ChannelKind) prefix() string {
	switch k {
	case KindColony:
		return "col-"
	case KindStation:
		return "sta-"
	case KindOutpost:
		return "out-"
	case KindGate:
		return "gate-"
	case KindShip:
		return "ship-"
	case KindHome:
		return "home-"
	case KindTransit:
		return "transit-"
	}
	return ""
}

// Slot maps a channel kind to its guild category slot.
func (k ChannelKind) Slot() CategorySlot {
	switch k {
	case KindColony:
		return SlotColony
	case KindStation:
		return SlotStation
	case KindOutpost:
		return SlotOutpost
	case KindGate:
		return SlotGate
	case KindShip:
		return SlotShipInteriors
	case KindHome:
		return SlotResidences
	case KindTransit:
		return SlotTransit
	}
	return SlotColony
}

// maxSlugLen caps the slug after the prefix; the platform limit on a full
// channel name is 100 characters.
const maxSlugLen = 85

// ChannelName builds a platform-safe channel name from an entity name:
// lowercase, non-alphanumerics collapsed to single dashes, prefixed by kind.
func ChannelName(kind ChannelKind, name string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		slug = "unnamed"
	}
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return kind.prefix() + slug
}
