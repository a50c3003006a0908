package channel

import (
	"context"
	stderrors "errors"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/metrics"
)

// recentMessageWindow guards against deleting a channel someone spoke in
// moments ago even if every occupant has since left.
const recentMessageWindow = 10 * time.Minute

// occupantCount returns the logged-in occupants of the entity the channel
// represents.
func (m *Manager) occupantCount(ref EntityRef) int {
	switch ref.Kind {
	case gateway.KindShip:
		return len(m.presence.ShipOccupants(ref.ID))
	case gateway.KindHome:
		return len(m.presence.HomeOccupants(ref.ID))
	default:
		return len(m.presence.LoggedInAt(ref.ID))
	}
}

// reclaimable evaluates the reclamation policy for one channel:
// confirmed to exist, zero logged-in occupants, no inbound travelers (for
// locations), idle past grace, and no message in the last ten minutes.
func (m *Manager) reclaimable(ctx context.Context, ref EntityRef, channelID string, storedActive time.Time, grace time.Duration) (bool, error) {
	exists, err := m.gw.ChannelExists(ctx, channelID)
	if err != nil {
		return false, err
	}
	if !exists {
		// Gone already; repair the reference instead of reclaiming.
		if err := m.store.SetChannel(ctx, ref, nil); err != nil {
			return false, err
		}
		m.activity.Forget(ctx, channelID)
		return false, nil
	}

	if m.occupantCount(ref) > 0 {
		return false, nil
	}
	if m.isLocationKind(ref.Kind) && len(m.presence.TravelersTo(ref.ID)) > 0 {
		return false, nil
	}

	now := m.clk.Now()

	if grace > 0 {
		lastActive := storedActive
		if cached, ok := m.activity.LastActive(ctx, channelID); ok && cached.After(lastActive) {
			lastActive = cached
		}
		if now.Sub(lastActive) < grace {
			return false, nil
		}
	}

	if lastMsg, ok := m.activity.LastMessage(ctx, channelID); ok && now.Sub(lastMsg) < recentMessageWindow {
		return false, nil
	}

	return true, nil
}

// ReclaimIfIdle applies the policy to one entity and deletes its channel
// when eligible. The immediate form (logout path) drops the idle-grace
// condition for interior channels, which have no audience once empty;
// location channels keep their grace even on the immediate path.
func (m *Manager) ReclaimIfIdle(ctx context.Context, ref EntityRef, immediate bool) (bool, error) {
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return false, err
	}
	if info.ChannelID == nil {
		return false, nil
	}

	grace := m.cfg.IdleGrace
	if immediate && !m.isLocationKind(ref.Kind) {
		grace = 0
	}

	storedActive := time.Time{}
	if info.LastActive != nil {
		storedActive = *info.LastActive
	}

	ok, err := m.reclaimable(ctx, ref, *info.ChannelID, storedActive, grace)
	if err != nil || !ok {
		return false, err
	}
	return true, m.reclaim(ctx, ref, *info.ChannelID)
}

func (m *Manager) reclaim(ctx context.Context, ref EntityRef, channelID string) error {
	logger := m.logger.With("operation", "reclaim", "kind", ref.Kind, "entity_id", ref.ID, "channel_id", channelID)

	if err := m.gw.DeleteChannel(ctx, channelID, "idle channel reclaimed"); err != nil {
		if !stderrors.Is(err, gateway.ErrNotFound) {
			// Leave the reference in place; the next sweep retries.
			logger.Warn("Failed to delete channel, will retry next sweep", "error", err)
			return nil
		}
	}

	if err := m.store.SetChannel(ctx, ref, nil); err != nil {
		return err
	}
	m.activity.Forget(ctx, channelID)
	metrics.ChannelsReaped.WithLabelValues(string(ref.Kind)).Inc()

	logger.Info("Channel reclaimed")
	return nil
}

// SweepIdle reclaims up to the cleanup batch size of idle channels across
// locations and interiors. Used by the Reaper's periodic pass.
// UnderPressure reports whether the guild sits at or over its location
// channel budget. Sweeps run with the shorter grace while this holds.
func (m *Manager) UnderPressure(ctx context.Context) bool {
	records, err := m.store.ActiveLocationChannels(ctx)
	if err != nil {
		m.logger.Warn("Pressure check failed", "error", err)
		return false
	}
	return len(records) >= m.cfg.MaxLocationChannels
}

func (m *Manager) SweepIdle(ctx context.Context, underPressure bool) (int, error) {
	if !m.cfg.AutoCleanupEnabled {
		return 0, nil
	}

	grace := m.cfg.IdleGrace
	if underPressure {
		grace = m.cfg.IdleGraceUnderPressure
	}

	locations, err := m.store.ActiveLocationChannels(ctx)
	if err != nil {
		return 0, err
	}
	interiors, err := m.store.ActiveInteriorChannels(ctx)
	if err != nil {
		return 0, err
	}
	metrics.ActiveLocationChannels.Set(float64(len(locations)))

	reaped := 0
	for _, rec := range append(locations, interiors...) {
		if reaped >= m.cfg.CleanupBatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return reaped, err
		}

		ok, err := m.reclaimable(ctx, rec.Ref, rec.ChannelID, rec.LastActive, grace)
		if err != nil {
			m.logger.Warn("Sweep check failed, skipping channel",
				"ref", m.fmtRef(rec.Ref), "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := m.reclaim(ctx, rec.Ref, rec.ChannelID); err != nil {
			m.logger.Warn("Sweep reclaim failed", "ref", m.fmtRef(rec.Ref), "error", err)
			continue
		}
		reaped++

		// Yield between deletions so a big sweep does not hammer the
		// platform all at once.
		if err := m.clk.Sleep(ctx, 750*time.Millisecond); err != nil {
			return reaped, err
		}
	}
	return reaped, nil
}

// enforceBudget runs one targeted reap before a location channel creation
// when the guild sits at or over the soft cap. Freeing nothing is not an
// error; the budget is soft and creation proceeds regardless.
func (m *Manager) enforceBudget(ctx context.Context) {
	records, err := m.store.ActiveLocationChannels(ctx)
	if err != nil {
		m.logger.Warn("Budget check failed", "error", err)
		return
	}
	metrics.ActiveLocationChannels.Set(float64(len(records)))
	if len(records) < m.cfg.MaxLocationChannels {
		return
	}

	m.logger.Info("Channel budget reached, running targeted reap",
		"active", len(records), "max", m.cfg.MaxLocationChannels)

	reaped := 0
	for _, rec := range records {
		if reaped >= m.cfg.CleanupBatchSize {
			break
		}
		ok, err := m.reclaimable(ctx, rec.Ref, rec.ChannelID, rec.LastActive, m.cfg.IdleGraceUnderPressure)
		if err != nil || !ok {
			continue
		}
		if err := m.reclaim(ctx, rec.Ref, rec.ChannelID); err == nil {
			reaped++
		}
	}
}
