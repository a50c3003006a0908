package channel

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/database"
)

// GuildSettings is one guild's row in server_config. Nil overrides fall back
// to the process-wide game config.
type GuildSettings struct {
	GuildID             string     `json:"guild_id"`
	NewsChannelID       *string    `json:"news_channel_id"`
	MaxLocationChannels *int       `json:"max_location_channels"`
	ChannelTimeoutHours *int       `json:"channel_timeout_hours"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at"`
}

// Apply overlays the guild's overrides onto the base game config.
func (g *GuildSettings) Apply(base config.GameConfig) config.GameConfig {
	cfg := base
	if g.MaxLocationChannels != nil {
		cfg.MaxLocationChannels = *g.MaxLocationChannels
	}
	if g.ChannelTimeoutHours != nil {
		cfg.ChannelTimeoutHours = *g.ChannelTimeoutHours
		cfg.IdleGrace = time.Duration(*g.ChannelTimeoutHours) * time.Hour
	}
	return cfg
}

// GuildRepository reads and writes server_config rows.
type GuildRepository struct {
	db *database.DB
}

func NewGuildRepository(db *database.DB) *GuildRepository {
	return &GuildRepository{db: db}
}

const guildColumns = `guild_id, news_channel_id, max_location_channels, channel_timeout_hours, created_at, updated_at`

func scanGuild(row interface{ Scan(...interface{}) error }) (*GuildSettings, error) {
	var g GuildSettings
	err := row.Scan(&g.GuildID, &g.NewsChannelID, &g.MaxLocationChannels, &g.ChannelTimeoutHours, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// All returns every configured guild, the set the engine serves.
func (r *GuildRepository) All(ctx context.Context) ([]GuildSettings, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+guildColumns+` FROM server_config ORDER BY guild_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query server config: %w", err)
	}
	defer rows.Close()

	var guilds []GuildSettings
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server config: %w", err)
		}
		guilds = append(guilds, *g)
	}
	return guilds, rows.Err()
}

// Get returns one guild's settings, or nil when the guild is unconfigured.
func (r *GuildRepository) Get(ctx context.Context, guildID string) (*GuildSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+guildColumns+` FROM server_config WHERE guild_id = $1`,
		guildID,
	)
	g, err := scanGuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server config: %w", err)
	}
	return g, nil
}

// Upsert registers a guild or updates its overrides.
func (r *GuildRepository) Upsert(ctx context.Context, settings *GuildSettings) (*GuildSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO server_config (guild_id, news_channel_id, max_location_channels, channel_timeout_hours)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (guild_id) DO UPDATE SET
		 	news_channel_id = EXCLUDED.news_channel_id,
		 	max_location_channels = EXCLUDED.max_location_channels,
		 	channel_timeout_hours = EXCLUDED.channel_timeout_hours,
		 	updated_at = NOW()
		 RETURNING `+guildColumns,
		settings.GuildID, settings.NewsChannelID, settings.MaxLocationChannels, settings.ChannelTimeoutHours,
	)
	g, err := scanGuild(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert server config: %w", err)
	}
	return g, nil
}
