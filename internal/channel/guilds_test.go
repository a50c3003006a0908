package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quietend-server/internal/shared/config"
)

func TestGuildSettingsApplyOverrides(t *testing.T) {
	base := config.GameConfig{
		MaxLocationChannels: 50,
		ChannelTimeoutHours: 48,
		IdleGrace:           48 * time.Hour,
	}

	maxChannels := 10
	timeout := 6
	overridden := (&GuildSettings{
		GuildID:             "guild-1",
		MaxLocationChannels: &maxChannels,
		ChannelTimeoutHours: &timeout,
	}).Apply(base)

	assert.Equal(t, 10, overridden.MaxLocationChannels)
	assert.Equal(t, 6, overridden.ChannelTimeoutHours)
	assert.Equal(t, 6*time.Hour, overridden.IdleGrace)

	unchanged := (&GuildSettings{GuildID: "guild-2"}).Apply(base)
	assert.Equal(t, base, unchanged)
}
