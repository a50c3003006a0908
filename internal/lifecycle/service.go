package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"quietend-server/internal/channel"
	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/gateway"
	"quietend-server/internal/presence"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"

	"github.com/google/uuid"
)

// TravelTerminator ends an in-flight travel session on character death.
type TravelTerminator interface {
	TerminateForDeath(ctx context.Context, userID string) error
}

// GroupLeaver removes a character from their group.
type GroupLeaver interface {
	Leave(ctx context.Context, userID string) error
}

// Service owns the character lifecycle and interior movement.
type Service struct {
	store    Store
	channels *channel.Manager
	subAreas *channel.SubAreas
	presence *presence.Index
	travel   TravelTerminator
	groups   GroupLeaver
	gw       gateway.Gateway
	clk      clock.Clock
	cfg      config.GameConfig

	// startLocationID is where new characters materialize, normally the
	// galactic center.
	startLocationID int64

	logger *slog.Logger
}

func NewService(store Store, channels *channel.Manager, subAreas *channel.SubAreas, idx *presence.Index, travel TravelTerminator, groups GroupLeaver, gw gateway.Gateway, clk clock.Clock, cfg config.GameConfig, startLocationID int64) *Service {
	return &Service{
		store:           store,
		channels:        channels,
		subAreas:        subAreas,
		presence:        idx,
		travel:          travel,
		groups:          groups,
		gw:              gw,
		clk:             clk,
		cfg:             cfg,
		startLocationID: startLocationID,
		logger:          slog.With("component", "lifecycle_service"),
	}
}

// FindOrCreate returns the character for a platform user, creating them at
// the start location with a starter ship on first contact.
func (s *Service) FindOrCreate(ctx context.Context, userID, name, callsign string) (*character.Character, error) {
	c, err := s.store.Character(ctx, userID)
	if err == nil {
		return c, nil
	}
	if errors.GetType(err) != errors.ErrorTypeNotFound {
		return nil, err
	}

	c, err = s.store.CreateCharacter(ctx, userID, name, callsign, s.startLocationID)
	if err != nil {
		return nil, err
	}
	sh, err := s.store.CreateStarterShip(ctx, userID, fmt.Sprintf("%s Mk I", callsign), s.startLocationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetActiveShip(ctx, userID, &sh.ID); err != nil {
		return nil, err
	}
	c.ActiveShipID = &sh.ID

	s.presence.Set(userID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: s.startLocationID,
		Status:     character.StatusDocked,
	})
	s.logger.Info("Character created",
		"operation", "find_or_create",
		"character_id", userID,
		"start_location_id", s.startLocationID,
		"ship_id", sh.ID)
	return c, nil
}

// Login marks the character present and announces them in whatever space
// their stored presence points at. In-transit characters surface nowhere;
// their transit channel already has them.
func (s *Service) Login(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.store.SetLoggedIn(ctx, userID, true); err != nil {
		return err
	}
	s.presence.SetLoggedIn(userID, true)

	ref, ok, err := s.containerRef(ctx, c)
	if err != nil {
		return err
	}
	if ok {
		if _, err := s.channels.HandleArrival(ctx, ref, c.ID, c.Name, c.Level); err != nil {
			s.logger.Warn("Login arrival failed", "character_id", userID, "error", err)
		}
	}

	s.logger.Info("Character logged in", "operation", "login", "character_id", userID)
	return nil
}

// Logout runs the departure contract on the character's current space and
// schedules the short-delay empty check that catches last-one-out channels.
func (s *Service) Logout(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.store.SetLoggedIn(ctx, userID, false); err != nil {
		return err
	}
	s.presence.SetLoggedIn(userID, false)

	if c.CurrentThreadID != nil {
		if err := s.subAreas.CheckEmpty(ctx, *c.CurrentThreadID); err != nil {
			s.logger.Warn("Sub-area check failed on logout", "character_id", userID, "error", err)
		}
	}

	ref, ok, err := s.containerRef(ctx, c)
	if err != nil {
		return err
	}
	if ok {
		if err := s.channels.HandleDeparture(ctx, ref, c.ID, c.Name); err != nil {
			s.logger.Warn("Logout departure failed", "character_id", userID, "error", err)
		}
		s.channels.ScheduleEmptyCheck(ref)
	}

	s.logger.Info("Character logged out", "operation", "logout", "character_id", userID)
	return nil
}

// Delete removes a character and everything hanging off them: travel session
// to a terminal status, group membership, ships, home ownerships, presence.
func (s *Service) Delete(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.travel.TerminateForDeath(ctx, userID); err != nil {
		s.logger.Warn("Travel termination failed during delete", "character_id", userID, "error", err)
	}
	if c.GroupID != nil {
		if err := s.groups.Leave(ctx, userID); err != nil {
			s.logger.Warn("Group leave failed during delete", "character_id", userID, "error", err)
		}
	}

	if c.CurrentThreadID != nil {
		if err := s.subAreas.CheckEmpty(ctx, *c.CurrentThreadID); err != nil {
			s.logger.Warn("Sub-area check failed during delete", "character_id", userID, "error", err)
		}
	}
	if ref, ok, refErr := s.containerRef(ctx, c); refErr == nil && ok {
		if err := s.channels.HandleDeparture(ctx, ref, c.ID, c.Name); err != nil {
			s.logger.Warn("Departure failed during delete", "character_id", userID, "error", err)
		}
		s.channels.ScheduleEmptyCheck(ref)
	}

	if err := s.store.DeleteCascade(ctx, userID); err != nil {
		return err
	}
	s.presence.Remove(userID)

	s.logger.Info("Character deleted", "operation", "delete", "character_id", userID)
	return nil
}

// InviteToShip lets the owner of a docked ship invite another character
// aboard. The invitee gets a DM and a window to board.
func (s *Service) InviteToShip(ctx context.Context, fromID, toID string) error {
	from, err := s.store.Character(ctx, fromID)
	if err != nil {
		return err
	}
	if from.ActiveShipID == nil {
		return errors.Validation("you have no active ship")
	}
	sh, err := s.store.Ship(ctx, *from.ActiveShipID)
	if err != nil {
		return err
	}
	if sh.DockedAtLocationID == nil {
		return errors.Validation("your ship is not docked")
	}
	return s.sendEntryInvite(ctx, EntryShip, sh.ID, fromID, toID,
		fmt.Sprintf("You are invited aboard **%s**.", sh.Name))
}

// InviteToHome lets a home's owner invite another character inside.
func (s *Service) InviteToHome(ctx context.Context, fromID, toID string, homeID int64) error {
	h, err := s.store.Home(ctx, homeID)
	if err != nil {
		return err
	}
	if h.OwnerID == nil || *h.OwnerID != fromID {
		return errors.Validation("only the owner can invite guests")
	}
	return s.sendEntryInvite(ctx, EntryHome, homeID, fromID, toID,
		fmt.Sprintf("You are invited into **%s**.", h.Name))
}

func (s *Service) sendEntryInvite(ctx context.Context, kind EntryKind, targetID int64, fromID, toID, text string) error {
	inv := &EntryInvite{
		ID:         uuid.New().String(),
		Kind:       kind,
		TargetID:   targetID,
		FromUserID: fromID,
		ToUserID:   toID,
		ExpiresAt:  s.clk.Now().Add(s.cfg.InviteDuration),
	}
	if _, err := s.store.CreateEntryInvite(ctx, inv); err != nil {
		return err
	}

	dmID, err := s.gw.OpenDM(ctx, toID)
	if err == nil {
		_, err = s.gw.Send(ctx, dmID, gateway.Embed{
			Title:       "Invitation",
			Description: text,
			Color:       gateway.ColorNeutral,
		})
	}
	if err != nil {
		s.logger.Warn("Failed to DM entry invite", "to", toID, "error", err)
	}
	return nil
}

// EnterShip moves a character from the ground into a ship interior. The
// ship must be docked where they stand, and non-owners need a live
// invitation.
func (s *Service) EnterShip(ctx context.Context, userID string, shipID int64) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireDocked(c); err != nil {
		return err
	}
	sh, err := s.store.Ship(ctx, shipID)
	if err != nil {
		return err
	}
	if sh.DockedAtLocationID == nil || *sh.DockedAtLocationID != *c.CurrentLocationID {
		return errors.Validationf("%s is not docked here", sh.Name)
	}
	if sh.OwnerID != userID {
		ok, err := s.store.ConsumeEntryInvite(ctx, EntryShip, shipID, userID, s.clk.Now())
		if err != nil {
			return err
		}
		if !ok {
			return errors.Validationf("you were not invited aboard %s", sh.Name)
		}
	}

	fromRef, err := s.locationRef(ctx, *c.CurrentLocationID)
	if err != nil {
		return err
	}
	if err := s.store.PlaceOnShip(ctx, userID, shipID); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{Kind: presence.OnShip, ShipID: shipID})
	s.moveBetween(ctx, c, fromRef, channel.EntityRef{Kind: gateway.KindShip, ID: shipID})
	return nil
}

// LeaveShip steps back onto the ground at the ship's dock.
func (s *Service) LeaveShip(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if c.CurrentShipID == nil {
		return errors.Validation("you are not aboard a ship")
	}
	sh, err := s.store.Ship(ctx, *c.CurrentShipID)
	if err != nil {
		return err
	}
	if sh.DockedAtLocationID == nil {
		return errors.Validation("the ship is not docked")
	}

	toRef, err := s.locationRef(ctx, *sh.DockedAtLocationID)
	if err != nil {
		return err
	}
	if err := s.store.PlaceAtLocation(ctx, userID, *sh.DockedAtLocationID, character.StatusDocked); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: *sh.DockedAtLocationID,
		Status:     character.StatusDocked,
	})
	fromRef := channel.EntityRef{Kind: gateway.KindShip, ID: sh.ID}
	s.moveBetween(ctx, c, fromRef, toRef)
	s.channels.ScheduleEmptyCheck(fromRef)
	return nil
}

// EnterHome moves a character into a home at their location. Owners walk
// in; guests need a live invitation.
func (s *Service) EnterHome(ctx context.Context, userID string, homeID int64) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireDocked(c); err != nil {
		return err
	}
	h, err := s.store.Home(ctx, homeID)
	if err != nil {
		return err
	}
	if h.LocationID != *c.CurrentLocationID {
		return errors.Validationf("%s is not at this location", h.Name)
	}
	if h.OwnerID == nil || *h.OwnerID != userID {
		ok, err := s.store.ConsumeEntryInvite(ctx, EntryHome, homeID, userID, s.clk.Now())
		if err != nil {
			return err
		}
		if !ok {
			return errors.Validationf("you were not invited into %s", h.Name)
		}
	}

	fromRef, err := s.locationRef(ctx, *c.CurrentLocationID)
	if err != nil {
		return err
	}
	if err := s.store.PlaceInHome(ctx, userID, homeID); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{Kind: presence.InHome, HomeID: homeID})
	s.moveBetween(ctx, c, fromRef, channel.EntityRef{Kind: gateway.KindHome, ID: homeID})
	return nil
}

// LeaveHome steps back out to the home's location.
func (s *Service) LeaveHome(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if c.CurrentHomeID == nil {
		return errors.Validation("you are not inside a home")
	}
	h, err := s.store.Home(ctx, *c.CurrentHomeID)
	if err != nil {
		return err
	}

	toRef, err := s.locationRef(ctx, h.LocationID)
	if err != nil {
		return err
	}
	if err := s.store.PlaceAtLocation(ctx, userID, h.LocationID, character.StatusDocked); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: h.LocationID,
		Status:     character.StatusDocked,
	})
	fromRef := channel.EntityRef{Kind: gateway.KindHome, ID: h.ID}
	s.moveBetween(ctx, c, fromRef, toRef)
	s.channels.ScheduleEmptyCheck(fromRef)
	return nil
}

// EnterSubArea steps into a named thread under the current location. The
// character keeps their location channel access; the thread nests under it.
func (s *Service) EnterSubArea(ctx context.Context, userID, name string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireDocked(c); err != nil {
		return err
	}
	locationID := *c.CurrentLocationID

	ref, err := s.locationRef(ctx, locationID)
	if err != nil {
		return err
	}
	threadID, err := s.subAreas.Enter(ctx, ref, name)
	if err != nil {
		return err
	}
	if err := s.store.PlaceInSubArea(ctx, userID, threadID, locationID); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{
		Kind:       presence.InSubArea,
		ThreadID:   threadID,
		LocationID: locationID,
	})
	return nil
}

// LeaveSubArea steps back out to the parent location, deleting the thread
// if it is now empty.
func (s *Service) LeaveSubArea(ctx context.Context, userID string) error {
	c, err := s.store.Character(ctx, userID)
	if err != nil {
		return err
	}
	if c.CurrentThreadID == nil {
		return errors.Validation("you are not in a sub-area")
	}
	threadID := *c.CurrentThreadID
	if c.ThreadLocationID == nil {
		return errors.Invariantf("sub-area presence without a parent location for %s", userID)
	}
	parentID := *c.ThreadLocationID

	if err := s.store.PlaceAtLocation(ctx, userID, parentID, character.StatusDocked); err != nil {
		return err
	}
	s.presence.Set(userID, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: parentID,
		Status:     character.StatusDocked,
	})
	return s.subAreas.CheckEmpty(ctx, threadID)
}

// moveBetween runs the departure and arrival contracts around a committed
// presence change. Gateway failures degrade to logs; the store already moved.
func (s *Service) moveBetween(ctx context.Context, c *character.Character, from, to channel.EntityRef) {
	if err := s.channels.HandleDeparture(ctx, from, c.ID, c.Name); err != nil {
		s.logger.Warn("Departure contract failed",
			"character_id", c.ID, "kind", from.Kind, "entity_id", from.ID, "error", err)
	}
	if _, err := s.channels.HandleArrival(ctx, to, c.ID, c.Name, c.Level); err != nil {
		s.logger.Warn("Arrival contract failed",
			"character_id", c.ID, "kind", to.Kind, "entity_id", to.ID, "error", err)
	}
}

func (s *Service) requireDocked(c *character.Character) error {
	if !c.IsAlive() {
		return errors.Validationf("%s is incapacitated", c.Name)
	}
	if c.CurrentLocationID == nil || c.LocationStatus != character.StatusDocked {
		return errors.Validation("you must be docked at a location")
	}
	return nil
}

// containerRef resolves the entity channel a character currently occupies.
// Sub-areas resolve to the parent location; in-transit and offline resolve
// to nothing.
func (s *Service) containerRef(ctx context.Context, c *character.Character) (channel.EntityRef, bool, error) {
	switch {
	case c.CurrentLocationID != nil:
		ref, err := s.locationRef(ctx, *c.CurrentLocationID)
		return ref, err == nil, err
	case c.CurrentShipID != nil:
		return channel.EntityRef{Kind: gateway.KindShip, ID: *c.CurrentShipID}, true, nil
	case c.CurrentHomeID != nil:
		return channel.EntityRef{Kind: gateway.KindHome, ID: *c.CurrentHomeID}, true, nil
	case c.ThreadLocationID != nil:
		ref, err := s.locationRef(ctx, *c.ThreadLocationID)
		return ref, err == nil, err
	default:
		return channel.EntityRef{}, false, nil
	}
}

func (s *Service) locationRef(ctx context.Context, locationID int64) (channel.EntityRef, error) {
	t, err := s.store.LocationType(ctx, locationID)
	if err != nil {
		return channel.EntityRef{}, err
	}
	return channel.EntityRef{Kind: locationKind(t), ID: locationID}, nil
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
