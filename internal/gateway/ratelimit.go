package gateway

import (
	"context"
	"log/slog"

	"quietend-server/internal/shared/config"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Gateway with a global token bucket so bursts of
// channel churn (mass arrivals, reaper sweeps) stay under the platform's
// per-bot limits. Every call waits for a token before going out.
type RateLimited struct {
	inner   Gateway
	limiter *rate.Limiter
	enabled bool
}

func NewRateLimited(inner Gateway, cfg config.RateLimitConfig) *RateLimited {
	logger := slog.With("component", "gateway_rate_limit", "operation", "setup")
	logger.Info("Gateway rate limiter configured",
		"enabled", cfg.Enabled,
		"requests_per_second", cfg.RequestsPerSecond,
		"burst_size", cfg.BurstSize,
	)

	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		enabled: cfg.Enabled,
	}
}

func (g *RateLimited) wait(ctx context.Context) error {
	if !g.enabled {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *RateLimited) CreateChannel(ctx context.Context, guildID, categoryID, name, topic string, access []UserAccess) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.CreateChannel(ctx, guildID, categoryID, name, topic, access)
}

func (g *RateLimited) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.inner.DeleteChannel(ctx, channelID, reason)
}

func (g *RateLimited) SetUserAccess(ctx context.Context, channelID, userID string, access Access) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.inner.SetUserAccess(ctx, channelID, userID, access)
}

func (g *RateLimited) ClearUserAccess(ctx context.Context, channelID, userID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.inner.ClearUserAccess(ctx, channelID, userID)
}

func (g *RateLimited) Send(ctx context.Context, channelID string, embed Embed) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.Send(ctx, channelID, embed)
}

func (g *RateLimited) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.inner.DeleteMessage(ctx, channelID, messageID)
}

func (g *RateLimited) FindCategory(ctx context.Context, guildID string, slot CategorySlot) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.FindCategory(ctx, guildID, slot)
}

func (g *RateLimited) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	if err := g.wait(ctx); err != nil {
		return false, err
	}
	return g.inner.ChannelExists(ctx, channelID)
}

func (g *RateLimited) OpenDM(ctx context.Context, userID string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.OpenDM(ctx, userID)
}

func (g *RateLimited) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.inner.CreateThread(ctx, parentChannelID, name)
}

func (g *RateLimited) DeleteThread(ctx context.Context, threadID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.inner.DeleteThread(ctx, threadID)
}
