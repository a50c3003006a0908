// Package reaper runs the periodic maintenance pass: expired invitations and
// votes, stale cooldowns and travel bans, idle channel reclamation per guild,
// and travel sessions whose arrival timer died with a previous process.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quietend-server/internal/metrics"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/database"
)

// GroupSweeper expires invitations and tallies overdue votes.
type GroupSweeper interface {
	SweepExpired(ctx context.Context) error
}

// BountySweeper clears lapsed capture cooldowns and travel bans.
type BountySweeper interface {
	SweepExpired(ctx context.Context) error
}

// GuildChannels is one guild's channel manager as the reaper sees it.
type GuildChannels interface {
	UnderPressure(ctx context.Context) bool
	SweepIdle(ctx context.Context, underPressure bool) (int, error)
}

// OrphanRecoverer force-arrives travel sessions stuck past their end time.
type OrphanRecoverer interface {
	RecoverOrphans(ctx context.Context) (int, error)
}

// Reaper drives all periodic cleanup from a single ticker. Each sweep is
// independent; one failing step never blocks the rest, and a slow guild is
// skipped rather than allowed to stall the cycle.
type Reaper struct {
	groups   GroupSweeper
	bounties BountySweeper
	guilds   map[string]GuildChannels
	travel   OrphanRecoverer
	clk      clock.Clock
	cfg      config.GameConfig
	logger   *slog.Logger

	mu     sync.Mutex
	ticker clock.Ticker
	busy   bool
}

func New(groups GroupSweeper, bounties BountySweeper, guilds map[string]GuildChannels, travel OrphanRecoverer, clk clock.Clock, cfg config.GameConfig) *Reaper {
	return &Reaper{
		groups:   groups,
		bounties: bounties,
		guilds:   guilds,
		travel:   travel,
		clk:      clk,
		cfg:      cfg,
		logger:   slog.With("component", "reaper"),
	}
}

// Start begins the sweep loop. Safe to call once.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		return
	}
	r.logger.Info("Starting reaper", "interval", r.cfg.ReaperInterval)
	r.ticker = r.clk.Every(r.cfg.ReaperInterval, func() {
		r.Sweep(context.Background())
	})
}

// Stop halts the loop. A sweep already in flight finishes on its own.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

// Sweep runs one full maintenance pass. Overlapping calls collapse: if a
// previous pass is still running, this one returns immediately.
func (r *Reaper) Sweep(ctx context.Context) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		metrics.ReaperSkips.WithLabelValues("overlap").Inc()
		return
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	started := r.clk.Now()

	if err := r.groups.SweepExpired(ctx); err != nil {
		r.logger.Error("Group sweep failed", "error", err)
	}
	if err := r.bounties.SweepExpired(ctx); err != nil {
		r.logger.Error("Bounty sweep failed", "error", err)
	}

	r.sweepGuilds(ctx)

	if n, err := r.travel.RecoverOrphans(ctx); err != nil {
		r.logger.Error("Orphan recovery failed", "error", err)
	} else if n > 0 {
		r.logger.Warn("Recovered orphaned travel sessions", "count", n)
	}

	metrics.ReaperSweeps.Inc()
	r.logger.Debug("Sweep complete", "elapsed", r.clk.Now().Sub(started))
}

// sweepGuilds reclaims idle channels one guild at a time. Each guild gets a
// bounded slice of the cycle; a guild that cannot finish inside it is logged
// and picked up again next pass.
func (r *Reaper) sweepGuilds(ctx context.Context) {
	first := true
	for guildID, channels := range r.guilds {
		if !first {
			// Breathe between guilds so back-to-back deletion bursts do
			// not trip platform rate limits.
			if err := r.clk.Sleep(ctx, 750*time.Millisecond); err != nil {
				return
			}
		}
		first = false

		gctx, cancel := database.WithBusyTimeout(ctx, r.cfg.GuildSweepTimeout)
		reaped, err := channels.SweepIdle(gctx, channels.UnderPressure(gctx))
		timedOut := gctx.Err() != nil
		cancel()
		err = database.MapBusy(err)

		switch {
		case err != nil && timedOut:
			r.logger.Warn("Guild sweep timed out, deferring to next pass",
				"guild_id", guildID, "reaped", reaped)
			metrics.ReaperSkips.WithLabelValues("guild_timeout").Inc()
		case err != nil:
			r.logger.Error("Guild sweep failed", "guild_id", guildID, "error", err)
		case reaped > 0:
			r.logger.Info("Reclaimed idle channels", "guild_id", guildID, "count", reaped)
		}
	}
}
