package channel

import (
	"fmt"
	"strings"

	"quietend-server/internal/gateway"
)

func welcomeEmbed(kind gateway.ChannelKind, info *EntityInfo) gateway.Embed {
	switch kind {
	case gateway.KindShip:
		return gateway.Embed{
			Title:       info.Name,
			Description: "You step aboard. " + info.Description,
			Color:       gateway.ColorNeutral,
			Footer:      "Ship interior",
		}
	case gateway.KindHome:
		return gateway.Embed{
			Title:       info.Name,
			Description: info.Description,
			Color:       gateway.ColorNeutral,
			Footer:      "Residence",
		}
	default:
		embed := gateway.Embed{
			Title:       info.Name,
			Description: info.Description,
			Color:       gateway.ColorArrival,
			Footer:      "Location established",
		}
		if services := serviceList(info.Services); services != "" {
			embed.Fields = append(embed.Fields, gateway.EmbedField{
				Name: "Services", Value: services, Inline: true,
			})
		}
		if info.Wealth > 0 {
			embed.Fields = append(embed.Fields, gateway.EmbedField{
				Name: "Wealth", Value: strings.Repeat("●", info.Wealth), Inline: true,
			})
		}
		return embed
	}
}

func serviceList(bits int) string {
	names := []struct {
		bit  int
		name string
	}{
		{1 << 0, "Fuel"},
		{1 << 1, "Repair"},
		{1 << 2, "Medical"},
		{1 << 3, "Shipyard"},
		{1 << 4, "Job Board"},
		{1 << 5, "Market"},
		{1 << 6, "Housing"},
	}
	var out []string
	for _, s := range names {
		if bits&s.bit != 0 {
			out = append(out, s.name)
		}
	}
	return strings.Join(out, ", ")
}

// repIcon derives the small marker shown on arrival embeds from a
// character's standing.
func repIcon(level int) string {
	switch {
	case level >= 20:
		return "★"
	case level >= 10:
		return "◆"
	case level >= 5:
		return "▲"
	default:
		return "•"
	}
}

func arrivalEmbed(name string, level int) gateway.Embed {
	return gateway.Embed{
		Description: fmt.Sprintf("%s **%s** has arrived.", repIcon(level), name),
		Color:       gateway.ColorArrival,
	}
}

func departureEmbed(name string) gateway.Embed {
	return gateway.Embed{
		Description: fmt.Sprintf("**%s** has departed.", name),
		Color:       gateway.ColorDeparture,
	}
}

func panelEmbed(name string) gateway.Embed {
	return gateway.Embed{
		Title:       "Control Panel",
		Description: fmt.Sprintf("%s — use the commands below to act here.", name),
		Color:       gateway.ColorNeutral,
		Footer:      "Only you can see this panel",
	}
}
