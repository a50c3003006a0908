package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/channel"
	"quietend-server/internal/gateway"
	"quietend-server/internal/metrics"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
)

// maxNewsHops caps the propagation delay when no corridor route exists
// between the origin and the galactic center.
const maxNewsHops = 12

// Topology answers corridor-hop distances between locations.
type Topology interface {
	Hops(from, to int64) int
}

// Bus fans game events out to players. It has three delivery paths: an
// immediate embed into a location channel, a direct message, and the delayed
// galactic-news queue whose lag grows with corridor distance from the
// galactic center.
type Bus struct {
	store    Store
	channels *channel.Manager
	gw       gateway.Gateway
	topo     Topology
	centerID int64
	clk      clock.Clock
	cfg      config.GameConfig
	logger   *slog.Logger
}

func NewBus(store Store, channels *channel.Manager, gw gateway.Gateway, topo Topology, centerID int64, clk clock.Clock, cfg config.GameConfig) *Bus {
	return &Bus{
		store:    store,
		channels: channels,
		gw:       gw,
		topo:     topo,
		centerID: centerID,
		clk:      clk,
		cfg:      cfg,
		logger:   slog.With("component", "notification_bus"),
	}
}

// Broadcast posts an embed into an entity's live channel. Entities without a
// channel swallow the broadcast; nobody was there to read it.
func (b *Bus) Broadcast(ctx context.Context, ref channel.EntityRef, embed gateway.Embed) error {
	return b.channels.Post(ctx, ref, embed)
}

// DM sends an embed straight to a user. Used for invitations, capture
// notices and other events that must reach the player wherever they are.
func (b *Bus) DM(ctx context.Context, userID string, embed gateway.Embed) error {
	dmID, err := b.gw.OpenDM(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to open DM for %s: %w", userID, err)
	}
	if _, err := b.gw.Send(ctx, dmID, embed); err != nil {
		return fmt.Errorf("failed to DM %s: %w", userID, err)
	}
	return nil
}

// PublishNews queues a galactic-news story originating at a location. The
// story reaches guild news channels after a delay proportional to the
// origin's corridor distance from the galactic center, so word of a frontier
// bounty takes a while to make the rounds.
func (b *Bus) PublishNews(ctx context.Context, originLocationID int64, title, body string) error {
	hops := b.topo.Hops(originLocationID, b.centerID)
	if hops < 0 || hops > maxNewsHops {
		hops = maxNewsHops
	}
	delay := time.Duration(hops) * b.cfg.NewsHopDelay

	item, err := b.store.EnqueueNews(ctx, &NewsItem{
		OriginLocationID: originLocationID,
		Title:            title,
		Body:             body,
		DeliverAt:        b.clk.Now().Add(delay),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue news: %w", err)
	}

	b.logger.Info("News queued",
		"operation", "publish_news",
		"news_id", item.ID,
		"origin_location_id", originLocationID,
		"hops", hops,
		"deliver_at", item.DeliverAt)

	b.schedule(delay)
	return nil
}

// DeliverDue flushes every queued story whose delay has elapsed. Delivery is
// best effort with a single attempt per guild; a guild whose news channel
// vanished just misses that edition.
func (b *Bus) DeliverDue(ctx context.Context) error {
	due, err := b.store.DueNews(ctx, b.clk.Now())
	if err != nil {
		return fmt.Errorf("failed to load due news: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	outlets, err := b.store.NewsChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load news channels: %w", err)
	}

	for _, item := range due {
		embed := gateway.Embed{
			Title:       item.Title,
			Description: item.Body,
			Color:       gateway.ColorNews,
			Footer:      "Galactic News Service",
		}
		for _, outlet := range outlets {
			if _, err := b.gw.Send(ctx, outlet.ChannelID, embed); err != nil {
				b.logger.Warn("News delivery failed",
					"news_id", item.ID,
					"guild_id", outlet.GuildID,
					"error", err)
			}
		}
		if err := b.store.DeleteNews(ctx, item.ID); err != nil {
			b.logger.Error("Failed to dequeue delivered news", "news_id", item.ID, "error", err)
			continue
		}
		metrics.NewsDelivered.Inc()
	}
	return nil
}

// Resume re-arms delivery timers for stories that were queued before a
// restart. Anything already overdue goes out immediately.
func (b *Bus) Resume(ctx context.Context) error {
	pending, err := b.store.PendingNews(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending news: %w", err)
	}

	now := b.clk.Now()
	for _, item := range pending {
		b.schedule(item.DeliverAt.Sub(now))
	}
	if len(pending) > 0 {
		b.logger.Info("Resumed news queue", "pending", len(pending))
	}
	return nil
}

func (b *Bus) schedule(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	b.clk.After(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := b.DeliverDue(ctx); err != nil {
			b.logger.Error("Scheduled news delivery failed", "error", err)
		}
	})
}
