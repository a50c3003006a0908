package travel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quietend-server/internal/channel"
	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/gateway"
	"quietend-server/internal/metrics"
	"quietend-server/internal/presence"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"

	"github.com/google/uuid"
)

// Engine owns travel sessions from initiation to arrival. The session row
// is the source of truth; timers re-read it and act only when they win the
// conditional status transition, so each session arrives at most once.
type Engine struct {
	store    Store
	channels *channel.Manager
	presence *presence.Index
	clk      clock.Clock
	cfg      config.GameConfig
	logger   *slog.Logger
}

func NewEngine(store Store, channels *channel.Manager, idx *presence.Index, clk clock.Clock, cfg config.GameConfig) *Engine {
	logger := slog.With("component", "travel_engine")
	logger.Debug("Initializing travel engine")

	return &Engine{
		store:    store,
		channels: channels,
		presence: idx,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// AdjustedTime computes the real transit duration for a ship: corridor
// base time scaled by fuel efficiency, floored at the configured minimum.
func (e *Engine) AdjustedTime(travelTimeSec, fuelEfficiency int) time.Duration {
	adjusted := float64(travelTimeSec) * (1.6 - 0.08*float64(fuelEfficiency))
	floor := e.cfg.MinTravelTime.Seconds()
	if adjusted < floor {
		adjusted = floor
	}
	return time.Duration(adjusted * float64(time.Second))
}

func locationKind(t galaxy.LocationType) gateway.ChannelKind {
	switch t {
	case galaxy.LocationStation:
		return gateway.KindStation
	case galaxy.LocationOutpost:
		return gateway.KindOutpost
	case galaxy.LocationGate:
		return gateway.KindGate
	default:
		return gateway.KindColony
	}
}

func (e *Engine) validate(t *Traveler, c *Corridor) error {
	if !c.IsActive {
		return errors.Validationf("corridor %s is closed", c.Name)
	}
	if t.HP <= 0 {
		return errors.Validationf("%s is incapacitated", t.Name)
	}
	if t.HasActiveSession {
		return errors.Conflictf("%s is already in transit", t.Name)
	}
	if t.TravelBannedUntil != nil && t.TravelBannedUntil.After(e.clk.Now()) {
		return errors.Validationf("%s cannot travel yet", t.Name)
	}
	if t.LocationID == nil || *t.LocationID != c.OriginID {
		return errors.Validationf("%s is not at %s", t.Name, c.OriginName)
	}
	if t.LocationStatus != character.StatusInSpace {
		return errors.Validationf("%s must undock first", t.Name)
	}
	if t.ShipID == 0 {
		return errors.Validationf("%s has no active ship", t.Name)
	}
	if t.Fuel < c.FuelCost {
		return errors.Validationf("insufficient fuel (%s)", t.Name)
	}
	return nil
}

// Initiate starts a solo corridor transition. Fuel deduction and session
// insertion commit atomically before any gateway work; a validation
// failure deducts nothing.
func (e *Engine) Initiate(ctx context.Context, userID string, corridorID int64) (*Session, error) {
	logger := e.logger.With("operation", "initiate", "user_id", userID, "corridor_id", corridorID)

	traveler, err := e.store.TravelerSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	corridor, err := e.store.Corridor(ctx, corridorID)
	if err != nil {
		return nil, err
	}
	if err := e.validate(traveler, corridor); err != nil {
		return nil, err
	}

	now := e.clk.Now()
	duration := e.AdjustedTime(corridor.TravelTimeSec, traveler.FuelEfficiency)
	leg := BeginLeg{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		GroupID:       traveler.GroupID,
		ShipID:        traveler.ShipID,
		OriginID:      corridor.OriginID,
		DestinationID: corridor.DestinationID,
		CorridorID:    corridor.ID,
		FuelCost:      corridor.FuelCost,
		StartedAt:     now,
		EndAt:         now.Add(duration),
	}

	session, err := e.store.BeginTravel(ctx, leg)
	if err != nil {
		return nil, err
	}
	e.presence.SetTraveling(userID, session.ID, corridor.DestinationID)
	metrics.TravelsStarted.Inc()

	logger.Info("Travel started",
		"session_id", session.ID,
		"origin_id", corridor.OriginID,
		"destination_id", corridor.DestinationID,
		"duration", duration,
	)

	e.openTransit(ctx, session, corridor, []*Traveler{traveler})
	e.scheduleArrival(session.ID, duration)
	e.scheduleHazards(ctx, session, corridor, duration)

	return session, nil
}

// InitiateGroup starts one corridor transition for every member at once.
// All legs commit or none do; a failing member is named in the error and
// nobody loses fuel. Everyone shares one transit channel and arrives on
// the slowest ship's schedule.
func (e *Engine) InitiateGroup(ctx context.Context, userIDs []string, corridorID int64) ([]Session, error) {
	logger := e.logger.With("operation", "initiate_group", "corridor_id", corridorID, "members", len(userIDs))

	if len(userIDs) == 0 {
		return nil, errors.Validationf("group has no members to move")
	}

	corridor, err := e.store.Corridor(ctx, corridorID)
	if err != nil {
		return nil, err
	}

	travelers := make([]*Traveler, 0, len(userIDs))
	for _, userID := range userIDs {
		t, err := e.store.TravelerSnapshot(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := e.validate(t, corridor); err != nil {
			return nil, err
		}
		travelers = append(travelers, t)
	}

	// The group moves as one convoy: everyone gets the slowest adjusted time.
	var duration time.Duration
	for _, t := range travelers {
		if d := e.AdjustedTime(corridor.TravelTimeSec, t.FuelEfficiency); d > duration {
			duration = d
		}
	}

	now := e.clk.Now()
	legs := make([]BeginLeg, 0, len(travelers))
	for _, t := range travelers {
		legs = append(legs, BeginLeg{
			SessionID:     uuid.NewString(),
			UserID:        t.UserID,
			GroupID:       t.GroupID,
			ShipID:        t.ShipID,
			OriginID:      corridor.OriginID,
			DestinationID: corridor.DestinationID,
			CorridorID:    corridor.ID,
			FuelCost:      corridor.FuelCost,
			StartedAt:     now,
			EndAt:         now.Add(duration),
		})
	}

	sessions, err := e.store.BeginGroupTravel(ctx, legs)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		e.presence.SetTraveling(sessions[i].UserID, sessions[i].ID, corridor.DestinationID)
		metrics.TravelsStarted.Inc()
	}

	logger.Info("Group travel started",
		"origin_id", corridor.OriginID,
		"destination_id", corridor.DestinationID,
		"duration", duration,
	)

	e.openGroupTransit(ctx, sessions, corridor, travelers)
	for i := range sessions {
		e.scheduleArrival(sessions[i].ID, duration)
	}
	if len(sessions) > 0 {
		e.scheduleHazards(ctx, &sessions[0], corridor, duration)
	}

	return sessions, nil
}

func (e *Engine) openGroupTransit(ctx context.Context, sessions []Session, corridor *Corridor, travelers []*Traveler) {
	userIDs := make([]string, 0, len(travelers))
	for _, t := range travelers {
		userIDs = append(userIDs, t.UserID)
	}

	slug := sessions[0].ID[:8]
	channelID, err := e.channels.CreateTransit(ctx, slug, userIDs, transitWelcome(corridor))
	if err != nil {
		e.logger.Warn("Failed to open group transit channel", "session_id", sessions[0].ID, "error", err)
		return
	}
	originRef := channel.EntityRef{Kind: locationKind(corridor.OriginType), ID: corridor.OriginID}
	for i := range sessions {
		if err := e.store.SetTransitChannel(ctx, sessions[i].ID, channelID); err != nil {
			e.logger.Warn("Failed to record transit channel", "session_id", sessions[i].ID, "error", err)
		}
		sessions[i].TransitChannelID = &channelID
		if err := e.channels.HandleDeparture(ctx, originRef, travelers[i].UserID, travelers[i].Name); err != nil {
			e.logger.Warn("Failed to run departure contract",
				"session_id", sessions[i].ID, "user_id", travelers[i].UserID, "error", err)
		}
	}
}

// openTransit creates the transit channel, moves the travelers out of the
// origin channel, and records the channel on the session. Gateway failures
// here never unwind the committed travel; the transit leg just runs quiet.
func (e *Engine) openTransit(ctx context.Context, session *Session, corridor *Corridor, travelers []*Traveler) {
	userIDs := make([]string, 0, len(travelers))
	for _, t := range travelers {
		userIDs = append(userIDs, t.UserID)
	}

	slug := session.ID[:8]
	channelID, err := e.channels.CreateTransit(ctx, slug, userIDs, transitWelcome(corridor))
	if err != nil {
		e.logger.Warn("Failed to open transit channel", "session_id", session.ID, "error", err)
		return
	}
	if err := e.store.SetTransitChannel(ctx, session.ID, channelID); err != nil {
		e.logger.Warn("Failed to record transit channel", "session_id", session.ID, "error", err)
	}
	session.TransitChannelID = &channelID

	originRef := channel.EntityRef{Kind: locationKind(corridor.OriginType), ID: corridor.OriginID}
	for _, t := range travelers {
		if err := e.channels.HandleDeparture(ctx, originRef, t.UserID, t.Name); err != nil {
			e.logger.Warn("Failed to run departure contract",
				"session_id", session.ID, "user_id", t.UserID, "error", err)
		}
	}
}

func transitWelcome(c *Corridor) gateway.Embed {
	var desc string
	switch c.Kind {
	case galaxy.CorridorLocalApproach:
		desc = fmt.Sprintf("On approach to **%s**. Local space only; keep your speed down.", c.DestName)
	case galaxy.CorridorGated:
		desc = fmt.Sprintf("Gate lock acquired. **%s** carries you toward **%s**.", c.Name, c.DestName)
	default:
		desc = fmt.Sprintf("Running dark through open space toward **%s**. No gate, no help.", c.DestName)
	}

	color := gateway.ColorTransit
	if c.DangerLevel >= 4 {
		color = gateway.ColorDanger
	}
	return gateway.Embed{
		Title:       "In Transit",
		Description: desc,
		Fields: []gateway.EmbedField{
			{Name: "Danger", Value: strings.Repeat("!", c.DangerLevel), Inline: true},
		},
		Color:  color,
		Footer: "You will arrive automatically",
	}
}

func (e *Engine) scheduleArrival(sessionID string, after time.Duration) {
	e.clk.After(after, func() {
		// Detached task: the traveler logging off must not abort arrival.
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		e.onArrive(ctx, sessionID)
	})
}

func (e *Engine) scheduleHazards(ctx context.Context, session *Session, corridor *Corridor, duration time.Duration) {
	events, err := e.store.CorridorEvents(ctx, corridor.ID)
	if err != nil {
		e.logger.Warn("Failed to load corridor events", "corridor_id", corridor.ID, "error", err)
		return
	}
	for _, event := range events {
		if event.AtFraction <= 0 || event.AtFraction >= 1 {
			continue
		}
		event := event
		at := time.Duration(float64(duration) * event.AtFraction)
		e.clk.After(at, func() {
			hctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			e.fireHazard(hctx, session.ID, event)
		})
	}
}

func (e *Engine) fireHazard(ctx context.Context, sessionID string, event HazardEvent) {
	logger := e.logger.With("operation", "hazard", "session_id", sessionID, "kind", event.Kind)

	session, err := e.store.Session(ctx, sessionID)
	if err != nil {
		logger.Warn("Failed to re-read session", "error", err)
		return
	}
	if session.Status != StatusTraveling {
		return
	}

	switch event.Kind {
	case HazardDamage:
		snapshot, err := e.store.TravelerSnapshot(ctx, session.UserID)
		if err == nil && snapshot.ShipID != 0 {
			if err := e.store.ApplyShipDamage(ctx, snapshot.ShipID, event.Damage); err != nil {
				logger.Warn("Failed to apply hazard damage", "error", err)
			}
		}
		e.postTransit(ctx, session, gateway.Embed{
			Title:       "Hull Stress",
			Description: event.Description,
			Color:       gateway.ColorDanger,
		})

	case HazardDiversion:
		ok, err := e.store.Divert(ctx, sessionID, event.DivertToID)
		if err != nil || !ok {
			return
		}
		e.presence.Redirect(session.UserID, event.DivertToID)
		e.postTransit(ctx, session, gateway.Embed{
			Title:       "Course Change",
			Description: fmt.Sprintf("%s Rerouting to **%s**.", event.Description, event.DivertToName),
			Color:       gateway.ColorDanger,
		})
		logger.Info("Session diverted", "new_destination_id", event.DivertToID)
	}
}

func (e *Engine) postTransit(ctx context.Context, session *Session, embed gateway.Embed) {
	if session.TransitChannelID == nil {
		return
	}
	if err := e.channels.PostChannel(ctx, *session.TransitChannelID, embed); err != nil {
		e.logger.Debug("Failed to post transit update", "session_id", session.ID, "error", err)
	}
}

// onArrive commits one arrival. Exactly one arrival handler takes effect
// per session: the conditional store transition is the tie-breaker against
// cancellation paths.
func (e *Engine) onArrive(ctx context.Context, sessionID string) {
	logger := e.logger.With("operation", "arrive", "session_id", sessionID)

	session, err := e.store.Session(ctx, sessionID)
	if err != nil {
		logger.Warn("Failed to read session at arrival", "error", err)
		return
	}
	if session.Status != StatusTraveling && session.Status != StatusDiverted {
		logger.Debug("Arrival skipped, session already terminal", "status", session.Status)
		return
	}

	finalDest := session.DestinationID
	ok, err := e.store.CompleteArrival(ctx, sessionID, finalDest)
	if err != nil {
		logger.Error("Failed to commit arrival", "error", err)
		return
	}
	if !ok {
		logger.Debug("Arrival lost race to a terminal status")
		return
	}
	metrics.TravelsArrived.Inc()

	e.presence.Set(session.UserID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: finalDest,
		Status:     character.StatusInSpace,
	})

	if session.GroupID != nil {
		if err := e.store.SetGroupLocation(ctx, *session.GroupID, finalDest); err != nil {
			logger.Warn("Failed to sync group location", "group_id", *session.GroupID, "error", err)
		}
	}

	e.finishArrival(ctx, session, finalDest)
	logger.Info("Arrival complete", "destination_id", finalDest)
}

// finishArrival handles the channel side of an arrival: destination access
// with the arrival contract, then a delayed transit-channel teardown so
// travelers can read the outcome.
func (e *Engine) finishArrival(ctx context.Context, session *Session, destinationID int64) {
	snapshot, err := e.store.TravelerSnapshot(ctx, session.UserID)
	if err != nil {
		e.logger.Warn("Failed to snapshot traveler after arrival", "session_id", session.ID, "error", err)
		return
	}

	destKind := gateway.KindColony
	if destType, err := e.store.LocationType(ctx, destinationID); err == nil {
		destKind = locationKind(destType)
	}

	destRef := channel.EntityRef{Kind: destKind, ID: destinationID}
	if _, err := e.channels.HandleArrival(ctx, destRef, session.UserID, snapshot.Name, snapshot.Level); err != nil {
		e.logger.Warn("Failed to run arrival contract",
			"session_id", session.ID, "user_id", session.UserID, "error", err)
	}

	if session.GroupID != nil {
		e.postTransit(ctx, session, gateway.Embed{
			Title:       "Arrival",
			Description: fmt.Sprintf("**%s** has made it through.", snapshot.Name),
			Color:       gateway.ColorArrival,
		})
	}

	e.scheduleTransitCleanup(session)
}

func (e *Engine) scheduleTransitCleanup(session *Session) {
	if session.TransitChannelID == nil {
		return
	}
	channelID := *session.TransitChannelID
	e.clk.After(e.cfg.TransitCleanupGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.channels.DeleteChannelID(ctx, channelID, "transit complete"); err != nil {
			e.logger.Warn("Failed to clean up transit channel", "channel_id", channelID, "error", err)
		}
	})
}

// EmergencyExit aborts a traveling session and drops the character back at
// the corridor origin, in space. The scheduled arrival becomes a no-op.
func (e *Engine) EmergencyExit(ctx context.Context, userID string) error {
	session, err := e.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return err
	}

	origin := session.OriginID
	ok, err := e.store.Terminate(ctx, session.ID, StatusEmergencyExit, &origin, 0)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflictf("travel already completed")
	}
	metrics.TravelsTerminated.WithLabelValues(string(StatusEmergencyExit)).Inc()

	e.presence.Set(userID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: origin,
		Status:     character.StatusInSpace,
	})

	snapshot, err := e.store.TravelerSnapshot(ctx, userID)
	if err == nil {
		kind := gateway.KindColony
		if originType, terr := e.store.LocationType(ctx, origin); terr == nil {
			kind = locationKind(originType)
		}
		originRef := channel.EntityRef{Kind: kind, ID: origin}
		if _, err := e.channels.HandleArrival(ctx, originRef, userID, snapshot.Name, snapshot.Level); err != nil {
			e.logger.Warn("Failed to restore origin access after emergency exit",
				"session_id", session.ID, "error", err)
		}
	}

	e.scheduleTransitCleanup(session)
	e.logger.Info("Emergency exit", "session_id", session.ID, "user_id", userID)
	return nil
}

// TerminateForDeath marks a traveling session dead without any placement.
// The arrival timer observes the terminal status and exits; the transit
// channel still tears down on its grace timer.
func (e *Engine) TerminateForDeath(ctx context.Context, userID string) error {
	session, err := e.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		if errors.GetType(err) == errors.ErrorTypeNotFound {
			return nil
		}
		return err
	}

	ok, err := e.store.Terminate(ctx, session.ID, StatusDeath, nil, 0)
	if err != nil {
		return err
	}
	if ok {
		metrics.TravelsTerminated.WithLabelValues(string(StatusDeath)).Inc()
		e.presence.Remove(userID)
		e.scheduleTransitCleanup(session)
	}
	return nil
}

// RecoverOrphans force-arrives sessions whose timer never fired (process
// restart, missed callback). Best effort, used by the reaper.
func (e *Engine) RecoverOrphans(ctx context.Context) (int, error) {
	cutoff := e.clk.Now().Add(-10 * time.Minute)
	orphans, err := e.store.Orphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, session := range orphans {
		e.logger.Warn("Recovering orphaned travel session",
			"session_id", session.ID, "user_id", session.UserID, "end_at", session.EndAt)
		e.onArrive(ctx, session.ID)
	}
	return len(orphans), nil
}

// Resume re-arms arrival timers for traveling sessions after a restart.
func (e *Engine) Resume(ctx context.Context) error {
	refs, err := e.store.TravelingRefs(ctx)
	if err != nil {
		return err
	}

	now := e.clk.Now()
	for _, ref := range refs {
		session, err := e.store.Session(ctx, ref.SessionID)
		if err != nil {
			continue
		}
		remaining := session.EndAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		e.scheduleArrival(session.ID, remaining)
	}

	e.logger.Info("Resumed travel sessions", "count", len(refs))
	return nil
}
