package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/metrics"
	"quietend-server/internal/presence"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"
)

// Manager coordinates channel lookup-or-create, per-user access, activity
// tracking and reclamation against the guild channel budget.
type Manager struct {
	gw       gateway.Gateway
	store    Store
	presence *presence.Index
	activity *Activity
	clk      clock.Clock
	cfg      config.GameConfig
	guildID  string
	logger   *slog.Logger

	// single-flight creation locks keyed by entity; two concurrent
	// arrivals at an empty location produce exactly one CreateChannel call.
	flightMu sync.Mutex
	inFlight map[EntityRef]*flight
}

type flight struct {
	done      chan struct{}
	channelID string
	err       error
}

func NewManager(gw gateway.Gateway, store Store, idx *presence.Index, activity *Activity, clk clock.Clock, cfg config.GameConfig, guildID string) *Manager {
	logger := slog.With("component", "channel_manager")
	logger.Debug("Initializing channel manager", "guild_id", guildID)

	return &Manager{
		gw:       gw,
		store:    store,
		presence: idx,
		activity: activity,
		clk:      clk,
		cfg:      cfg,
		guildID:  guildID,
		logger:   logger,
		inFlight: make(map[EntityRef]*flight),
	}
}

// EnsureChannel returns the live channel id for an entity, creating the
// channel (and posting its welcome embed exactly once) on a miss. A stored
// id pointing at an externally deleted channel is nulled and recreated.
func (m *Manager) EnsureChannel(ctx context.Context, ref EntityRef) (string, error) {
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return "", err
	}

	if info.ChannelID != nil {
		exists, err := m.gw.ChannelExists(ctx, *info.ChannelID)
		if err != nil {
			return "", errors.WrapGatewayTransient("failed to verify channel", err)
		}
		if exists {
			return *info.ChannelID, nil
		}
		// Deleted behind our back; repair the reference and fall through.
		m.logger.Warn("Stored channel missing on platform, repairing",
			"kind", ref.Kind, "entity_id", ref.ID, "channel_id", *info.ChannelID)
		m.activity.Forget(ctx, *info.ChannelID)
		if err := m.store.SetChannel(ctx, ref, nil); err != nil {
			return "", err
		}
	}

	return m.createSingleFlight(ctx, ref)
}

func (m *Manager) createSingleFlight(ctx context.Context, ref EntityRef) (string, error) {
	m.flightMu.Lock()
	if f, ok := m.inFlight[ref]; ok {
		m.flightMu.Unlock()
		select {
		case <-f.done:
			return f.channelID, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.inFlight[ref] = f
	m.flightMu.Unlock()

	f.channelID, f.err = m.create(ctx, ref)
	close(f.done)

	m.flightMu.Lock()
	delete(m.inFlight, ref)
	m.flightMu.Unlock()

	return f.channelID, f.err
}

func (m *Manager) create(ctx context.Context, ref EntityRef) (string, error) {
	logger := m.logger.With("operation", "create", "kind", ref.Kind, "entity_id", ref.ID)

	// A waiter that lost the single-flight race arrives here after the
	// winner committed; re-read before creating.
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return "", err
	}
	if info.ChannelID != nil {
		return *info.ChannelID, nil
	}

	if m.isLocationKind(ref.Kind) {
		m.enforceBudget(ctx)
	}

	categoryID, err := m.gw.FindCategory(ctx, m.guildID, ref.Kind.Slot())
	if err != nil {
		return "", errors.WrapGatewayTransient("failed to find category", err)
	}

	name := gateway.ChannelName(ref.Kind, info.Name)
	channelID, err := m.gw.CreateChannel(ctx, m.guildID, categoryID, name, info.Description, nil)
	if err != nil {
		// One retry for transient platform failures.
		channelID, err = m.gw.CreateChannel(ctx, m.guildID, categoryID, name, info.Description, nil)
		if err != nil {
			logger.Error("Failed to create channel", "error", err)
			return "", errors.WrapGatewayTransient("failed to create channel", err)
		}
	}

	if err := m.store.SetChannel(ctx, ref, &channelID); err != nil {
		return "", err
	}

	now := m.clk.Now()
	m.activity.BumpActive(ctx, channelID, now)
	metrics.ChannelsCreated.WithLabelValues(string(ref.Kind)).Inc()

	// Welcome embed, exactly once per creation. A send failure is logged
	// and swallowed; the channel is already live.
	if _, err := m.gw.Send(ctx, channelID, welcomeEmbed(ref.Kind, info)); err != nil {
		logger.Warn("Failed to post welcome embed", "channel_id", channelID, "error", err)
	}

	logger.Info("Channel created", "channel_id", channelID, "name", name)
	return channelID, nil
}

func (m *Manager) isLocationKind(kind gateway.ChannelKind) bool {
	switch kind {
	case gateway.KindColony, gateway.KindStation, gateway.KindOutpost, gateway.KindGate:
		return true
	}
	return false
}

// GrantAccess ensures the entity's channel exists and opens it to a user.
func (m *Manager) GrantAccess(ctx context.Context, ref EntityRef, userID string) (string, error) {
	channelID, err := m.EnsureChannel(ctx, ref)
	if err != nil {
		return "", err
	}

	if err := m.gw.SetUserAccess(ctx, channelID, userID, gateway.Access{Read: true, Write: true}); err != nil {
		return "", errors.WrapGatewayTransient("failed to grant access", err)
	}

	now := m.clk.Now()
	m.activity.BumpActive(ctx, channelID, now)
	if err := m.store.TouchActivity(ctx, ref, now); err != nil {
		m.logger.Warn("Failed to persist activity bump", "kind", ref.Kind, "entity_id", ref.ID, "error", err)
	}
	return channelID, nil
}

// RevokeAccess removes a user's overwrite. A missing channel is not an
// error; there is nothing left to revoke.
func (m *Manager) RevokeAccess(ctx context.Context, ref EntityRef, userID string) error {
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return err
	}
	if info.ChannelID == nil {
		return nil
	}
	if err := m.gw.ClearUserAccess(ctx, *info.ChannelID, userID); err != nil && !stderrors.Is(err, gateway.ErrNotFound) {
		return errors.WrapGatewayTransient("failed to revoke access", err)
	}
	return nil
}

// NotifyMessage is called by the bot boundary whenever a user posts in an
// engine-owned channel; it feeds the no-recent-messages reclamation guard.
func (m *Manager) NotifyMessage(ctx context.Context, channelID string) {
	m.activity.BumpMessage(ctx, channelID, m.clk.Now())
}

// Post sends an embed to an entity's channel if one exists, bumping
// activity on success.
func (m *Manager) Post(ctx context.Context, ref EntityRef, embed gateway.Embed) error {
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return err
	}
	if info.ChannelID == nil {
		return nil
	}
	if _, err := m.gw.Send(ctx, *info.ChannelID, embed); err != nil {
		return errors.WrapGatewayTransient("failed to post embed", err)
	}
	m.activity.BumpActive(ctx, *info.ChannelID, m.clk.Now())
	return nil
}

// CreateTransit opens a transit channel visible only to the travelers.
// Transit channels are session-scoped; they are not entity-backed and are
// exempt from the location budget.
func (m *Manager) CreateTransit(ctx context.Context, slug string, travelers []string, welcome gateway.Embed) (string, error) {
	categoryID, err := m.gw.FindCategory(ctx, m.guildID, gateway.SlotTransit)
	if err != nil {
		return "", errors.WrapGatewayTransient("failed to find transit category", err)
	}

	access := make([]gateway.UserAccess, 0, len(travelers))
	for _, userID := range travelers {
		access = append(access, gateway.UserAccess{UserID: userID, Access: gateway.Access{Read: true, Write: true}})
	}

	name := gateway.ChannelName(gateway.KindTransit, slug)
	channelID, err := m.gw.CreateChannel(ctx, m.guildID, categoryID, name, "in transit", access)
	if err != nil {
		return "", errors.WrapGatewayTransient("failed to create transit channel", err)
	}
	metrics.ChannelsCreated.WithLabelValues(string(gateway.KindTransit)).Inc()

	if _, err := m.gw.Send(ctx, channelID, welcome); err != nil {
		m.logger.Warn("Failed to post transit welcome", "channel_id", channelID, "error", err)
	}
	return channelID, nil
}

// DeleteChannelID removes a raw channel (transit cleanup) without entity
// bookkeeping. Already-gone channels are fine.
// PostChannel sends an embed into a channel the manager does not track,
// such as a transit channel owned by a travel session.
func (m *Manager) PostChannel(ctx context.Context, channelID string, embed gateway.Embed) error {
	_, err := m.gw.Send(ctx, channelID, embed)
	return err
}

func (m *Manager) DeleteChannelID(ctx context.Context, channelID, reason string) error {
	if err := m.gw.DeleteChannel(ctx, channelID, reason); err != nil && !stderrors.Is(err, gateway.ErrNotFound) {
		return errors.WrapGatewayTransient("failed to delete channel", err)
	}
	m.activity.Forget(ctx, channelID)
	return nil
}

// ScheduleEmptyCheck runs a short-delay reclamation probe against an entity
// so a "last user left" transition does not wait for the periodic sweep.
func (m *Manager) ScheduleEmptyCheck(ref EntityRef) {
	m.clk.After(m.cfg.LogoutChannelCheckDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := m.ReclaimIfIdle(ctx, ref, true); err != nil {
			m.logger.Debug("Deferred empty-check failed",
				"kind", ref.Kind, "entity_id", ref.ID, "error", err)
		}
	})
}

func (m *Manager) fmtRef(ref EntityRef) string {
	return fmt.Sprintf("%s/%d", ref.Kind, ref.ID)
}
