package channel

import (
	"context"
	stderrors "errors"

	"quietend-server/internal/gateway"
)

// HandleArrival runs the arrival broadcast contract when a character's
// presence becomes a location: ensure the channel, grant access, post the
// arrival embed, then post the character's panel message and remember it
// for deletion on departure.
func (m *Manager) HandleArrival(ctx context.Context, ref EntityRef, userID, displayName string, level int) (string, error) {
	channelID, err := m.GrantAccess(ctx, ref, userID)
	if err != nil {
		return "", err
	}

	if _, err := m.gw.Send(ctx, channelID, arrivalEmbed(displayName, level)); err != nil {
		m.logger.Warn("Failed to post arrival embed",
			"channel_id", channelID, "user_id", userID, "error", err)
	}

	msgID, err := m.gw.Send(ctx, channelID, panelEmbed(displayName))
	if err != nil {
		m.logger.Warn("Failed to post panel", "channel_id", channelID, "user_id", userID, "error", err)
		return channelID, nil
	}
	if err := m.store.SetPanelMessage(ctx, userID, &msgID); err != nil {
		m.logger.Warn("Failed to track panel message", "user_id", userID, "error", err)
	}
	return channelID, nil
}

// HandleDeparture runs the departure contract: post a departure embed only
// if another logged-in occupant remains, delete the character's panel, and
// revoke their access. Call after the presence index reflects the move.
func (m *Manager) HandleDeparture(ctx context.Context, ref EntityRef, userID, displayName string) error {
	info, err := m.store.Entity(ctx, ref)
	if err != nil {
		return err
	}
	if info.ChannelID == nil {
		return nil
	}
	channelID := *info.ChannelID

	if m.occupantCount(ref) > 0 {
		if _, err := m.gw.Send(ctx, channelID, departureEmbed(displayName)); err != nil {
			m.logger.Warn("Failed to post departure embed",
				"channel_id", channelID, "user_id", userID, "error", err)
		}
	}

	if msgID, err := m.store.PanelMessage(ctx, userID); err == nil && msgID != nil {
		if err := m.gw.DeleteMessage(ctx, channelID, *msgID); err != nil && !stderrors.Is(err, gateway.ErrNotFound) {
			m.logger.Debug("Failed to delete panel message",
				"channel_id", channelID, "message_id", *msgID, "error", err)
		}
		if err := m.store.SetPanelMessage(ctx, userID, nil); err != nil {
			m.logger.Warn("Failed to clear panel tracking", "user_id", userID, "error", err)
		}
	}

	return m.RevokeAccess(ctx, ref, userID)
}
