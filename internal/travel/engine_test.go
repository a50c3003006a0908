package travel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quietend-server/internal/channel"
	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/gateway"
	"quietend-server/internal/presence"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for engine tests. Begin and terminate
// paths apply all-or-nothing, like the SQL transactions they stand in for.
type memStore struct {
	mu        sync.Mutex
	travelers map[string]*Traveler
	sessions  map[string]*Session
	corridors map[int64]*Corridor
	events    map[int64][]HazardEvent
	locTypes  map[int64]galaxy.LocationType
	groupLoc  map[int64]int64
	damage    map[int64]int
}

func newMemStore() *memStore {
	return &memStore{
		travelers: make(map[string]*Traveler),
		sessions:  make(map[string]*Session),
		corridors: make(map[int64]*Corridor),
		events:    make(map[int64][]HazardEvent),
		locTypes:  make(map[int64]galaxy.LocationType),
		groupLoc:  make(map[int64]int64),
		damage:    make(map[int64]int),
	}
}

func (s *memStore) LocationType(_ context.Context, locationID int64) (galaxy.LocationType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.locTypes[locationID]
	if !ok {
		return "", errors.NotFoundf("location %d not found", locationID)
	}
	return t, nil
}

func (s *memStore) addTraveler(userID, name string, locationID int64, fuel, efficiency int) {
	loc := locationID
	s.travelers[userID] = &Traveler{
		UserID:         userID,
		Name:           name,
		Level:          3,
		HP:             100,
		LocationID:     &loc,
		LocationStatus: character.StatusInSpace,
		ShipID:         int64(len(s.travelers) + 100),
		ShipName:       name + "'s ship",
		Fuel:           fuel,
		FuelEfficiency: efficiency,
		IsLoggedIn:     true,
	}
}

func (s *memStore) addCorridor(id, origin, dest int64, travelTimeSec, fuelCost int) {
	s.corridors[id] = &Corridor{
		ID:            id,
		Name:          fmt.Sprintf("corridor-%d", id),
		OriginID:      origin,
		OriginName:    "New Terra",
		OriginType:    galaxy.LocationColony,
		DestinationID: dest,
		DestName:      "Kepler Station",
		DestType:      galaxy.LocationStation,
		TravelTimeSec: travelTimeSec,
		FuelCost:      fuelCost,
		DangerLevel:   2,
		Kind:          galaxy.CorridorGated,
		IsActive:      true,
	}
	s.locTypes[origin] = galaxy.LocationColony
	s.locTypes[dest] = galaxy.LocationStation
}

func (s *memStore) fuel(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.travelers[userID].Fuel
}

func (s *memStore) session(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[id]
}

func (s *memStore) TravelerSnapshot(_ context.Context, userID string) (*Traveler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.travelers[userID]
	if !ok {
		return nil, errors.NotFoundf("character %s not found", userID)
	}
	out := *t
	out.HasActiveSession = false
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Status.IsTerminal() {
			out.HasActiveSession = true
		}
	}
	return &out, nil
}

func (s *memStore) Corridor(_ context.Context, corridorID int64) (*Corridor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.corridors[corridorID]
	if !ok {
		return nil, errors.NotFoundf("corridor %d not found", corridorID)
	}
	out := *c
	return &out, nil
}

func (s *memStore) CorridorEvents(_ context.Context, corridorID int64) ([]HazardEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HazardEvent(nil), s.events[corridorID]...), nil
}

func (s *memStore) beginLegLocked(leg BeginLeg) (*Session, error) {
	t := s.travelers[leg.UserID]
	if t.Fuel < leg.FuelCost {
		return nil, errors.Validationf("insufficient fuel")
	}
	t.Fuel -= leg.FuelCost
	t.LocationID = nil
	sess := &Session{
		ID:            leg.SessionID,
		UserID:        leg.UserID,
		GroupID:       leg.GroupID,
		OriginID:      leg.OriginID,
		DestinationID: leg.DestinationID,
		CorridorID:    leg.CorridorID,
		StartedAt:     leg.StartedAt,
		EndAt:         leg.EndAt,
		Status:        StatusTraveling,
	}
	s.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

func (s *memStore) BeginTravel(_ context.Context, leg BeginLeg) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLegLocked(leg)
}

func (s *memStore) BeginGroupTravel(_ context.Context, legs []BeginLeg) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, leg := range legs {
		if s.travelers[leg.UserID].Fuel < leg.FuelCost {
			return nil, errors.Validationf("insufficient fuel (%s)", s.travelers[leg.UserID].Name)
		}
	}
	sessions := make([]Session, 0, len(legs))
	for _, leg := range legs {
		sess, err := s.beginLegLocked(leg)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

func (s *memStore) Session(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFoundf("travel session %s not found", sessionID)
	}
	out := *sess
	return &out, nil
}

func (s *memStore) ActiveSessionForUser(_ context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Status.IsTerminal() {
			out := *sess
			return &out, nil
		}
	}
	return nil, errors.NotFoundf("no active travel session for %s", userID)
}

func (s *memStore) SetTransitChannel(_ context.Context, sessionID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := channelID
	s.sessions[sessionID].TransitChannelID = &id
	return nil
}

func (s *memStore) CompleteArrival(_ context.Context, sessionID string, destinationID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess.Status != StatusTraveling && sess.Status != StatusDiverted {
		return false, nil
	}
	sess.Status = StatusArrived
	dest := destinationID
	t := s.travelers[sess.UserID]
	t.LocationID = &dest
	t.LocationStatus = character.StatusInSpace
	return true, nil
}

func (s *memStore) Terminate(_ context.Context, sessionID string, status Status, returnTo *int64, refundFuel int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess.Status != StatusTraveling && sess.Status != StatusDiverted {
		return false, nil
	}
	sess.Status = status
	t := s.travelers[sess.UserID]
	if returnTo != nil {
		loc := *returnTo
		t.LocationID = &loc
		t.LocationStatus = character.StatusInSpace
	}
	t.Fuel += refundFuel
	return true, nil
}

func (s *memStore) Divert(_ context.Context, sessionID string, newDestinationID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess.Status != StatusTraveling {
		return false, nil
	}
	sess.Status = StatusDiverted
	sess.DestinationID = newDestinationID
	return true, nil
}

func (s *memStore) ApplyShipDamage(_ context.Context, shipID int64, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.damage[shipID] += amount
	return nil
}

func (s *memStore) SetGroupLocation(_ context.Context, groupID, locationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupLoc[groupID] = locationID
	return nil
}

func (s *memStore) Orphans(_ context.Context, cutoff time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if !sess.Status.IsTerminal() && sess.EndAt.Before(cutoff) {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memStore) TravelingRefs(_ context.Context) ([]presence.TravelRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []presence.TravelRef
	for _, sess := range s.sessions {
		if !sess.Status.IsTerminal() {
			out = append(out, presence.TravelRef{SessionID: sess.ID, UserID: sess.UserID, DestinationID: sess.DestinationID})
		}
	}
	return out, nil
}

// chanStore backs the channel manager in engine tests.
type chanStore struct {
	mu       sync.Mutex
	entities map[channel.EntityRef]*channel.EntityInfo
	panels   map[string]*string
}

func newChanStore() *chanStore {
	return &chanStore{
		entities: make(map[channel.EntityRef]*channel.EntityInfo),
		panels:   make(map[string]*string),
	}
}

func (s *chanStore) addLocation(kind gateway.ChannelKind, id int64, name string) channel.EntityRef {
	ref := channel.EntityRef{Kind: kind, ID: id}
	s.entities[ref] = &channel.EntityInfo{Ref: ref, Name: name, Description: "somewhere", Services: 1, Wealth: 4}
	return ref
}

func (s *chanStore) Entity(_ context.Context, ref channel.EntityRef) (*channel.EntityInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.entities[ref]
	if !ok {
		return nil, errors.NotFoundf("no entity %v", ref)
	}
	out := *info
	return &out, nil
}

func (s *chanStore) SetChannel(_ context.Context, ref channel.EntityRef, channelID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[ref].ChannelID = channelID
	return nil
}

func (s *chanStore) TouchActivity(_ context.Context, ref channel.EntityRef, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := at
	s.entities[ref].LastActive = &t
	return nil
}

func (s *chanStore) ActiveLocationChannels(context.Context) ([]channel.Record, error) {
	return nil, nil
}

func (s *chanStore) ActiveInteriorChannels(context.Context) ([]channel.Record, error) {
	return nil, nil
}

func (s *chanStore) PanelMessage(_ context.Context, userID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panels[userID], nil
}

func (s *chanStore) SetPanelMessage(_ context.Context, userID string, messageID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[userID] = messageID
	return nil
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		MaxLocationChannels:     50,
		IdleGrace:               2 * time.Hour,
		IdleGraceUnderPressure:  30 * time.Minute,
		CleanupBatchSize:        5,
		AutoCleanupEnabled:      true,
		LogoutChannelCheckDelay: 1500 * time.Millisecond,
		MinTravelTime:           60 * time.Second,
		TransitCleanupGrace:     45 * time.Second,
	}
}

type engineFixture struct {
	engine *Engine
	store  *memStore
	chans  *chanStore
	fake   *gateway.Fake
	idx    *presence.Index
	clk    *clock.Mock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := newMemStore()
	chans := newChanStore()
	fake := gateway.NewFake()
	idx := presence.NewIndex()
	clk := clock.NewMock()
	cfg := testGameConfig()
	mgr := channel.NewManager(fake, chans, idx, channel.NewActivity(nil), clk, cfg, "guild-1")
	return &engineFixture{
		engine: NewEngine(store, mgr, idx, clk, cfg),
		store:  store,
		chans:  chans,
		fake:   fake,
		idx:    idx,
		clk:    clk,
	}
}

// placeAt seeds presence and the origin channel the way a login would.
func (f *engineFixture) placeAt(t *testing.T, userID, name string, ref channel.EntityRef) {
	t.Helper()
	f.idx.SetLoggedIn(userID, true)
	f.idx.Set(userID, presence.Presence{Kind: presence.AtLocation, LocationID: ref.ID, Status: character.StatusInSpace})
	mgr := f.engine.channels
	_, err := mgr.HandleArrival(context.Background(), ref, userID, name, 3)
	require.NoError(t, err)
}

func (f *engineFixture) transitChannel(t *testing.T, sessionID string) *gateway.FakeChannel {
	t.Helper()
	sess := f.store.session(sessionID)
	require.NotNil(t, sess.TransitChannelID, "transit channel recorded on session")
	ch := f.fake.Channel(*sess.TransitChannelID)
	require.NotNil(t, ch)
	return ch
}

func TestAdjustedTime(t *testing.T) {
	f := newEngineFixture(t)

	assert.Equal(t, 720*time.Second, f.engine.AdjustedTime(600, 5))
	assert.Equal(t, 60*time.Second, f.engine.AdjustedTime(30, 0), "floored at the minimum")
	assert.Equal(t, 60*time.Second, f.engine.AdjustedTime(600, 20), "high efficiency still floored")
}

func TestSoloGatedTransit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	originRef := f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	f.store.addTraveler("A", "Avery", 1, 50, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	f.placeAt(t, "A", "Avery", originRef)

	originID := *f.chans.entities[originRef].ChannelID

	session, err := f.engine.Initiate(ctx, "A", 7)
	require.NoError(t, err)

	assert.Equal(t, 30, f.store.fuel("A"))
	assert.Equal(t, 720*time.Second, session.EndAt.Sub(session.StartedAt))

	transit := f.transitChannel(t, session.ID)
	assert.Contains(t, transit.Access, "A")
	assert.Len(t, transit.Access, 1, "only the traveler rides the transit channel")
	require.NotEmpty(t, transit.Messages, "transit welcome posted")

	assert.NotContains(t, f.fake.Channel(originID).Access, "A", "origin access revoked")

	p := f.idx.WhereIs("A")
	assert.Equal(t, presence.InTransit, p.Kind)

	f.clk.Advance(720 * time.Second)

	assert.Equal(t, StatusArrived, f.store.session(session.ID).Status)
	snapshot, err := f.store.TravelerSnapshot(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, snapshot.LocationID)
	assert.Equal(t, int64(2), *snapshot.LocationID)
	assert.Equal(t, character.StatusInSpace, snapshot.LocationStatus)

	destInfo, err := f.chans.Entity(ctx, channel.EntityRef{Kind: gateway.KindStation, ID: 2})
	require.NoError(t, err)
	require.NotNil(t, destInfo.ChannelID, "destination channel created on arrival")
	assert.Contains(t, f.fake.Channel(*destInfo.ChannelID).Access, "A")

	transitID := transit.ID
	assert.NotNil(t, f.fake.Channel(transitID), "transit channel survives the grace period")
	f.clk.Advance(45 * time.Second)
	assert.Nil(t, f.fake.Channel(transitID), "transit channel deleted after grace")
}

func TestInitiateRejectsInsufficientFuel(t *testing.T) {
	f := newEngineFixture(t)

	f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.store.addTraveler("A", "Avery", 1, 10, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	f.idx.SetLoggedIn("A", true)
	f.idx.Set("A", presence.Presence{Kind: presence.AtLocation, LocationID: 1, Status: character.StatusInSpace})

	_, err := f.engine.Initiate(context.Background(), "A", 7)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
	assert.Equal(t, 10, f.store.fuel("A"), "validation never touches fuel")
}

func TestInitiateRejectsDockedTraveler(t *testing.T) {
	f := newEngineFixture(t)

	f.store.addTraveler("A", "Avery", 1, 50, 5)
	f.store.travelers["A"].LocationStatus = character.StatusDocked
	f.store.addCorridor(7, 1, 2, 600, 20)

	_, err := f.engine.Initiate(context.Background(), "A", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undock")
}

func TestGroupTravelAtomicRefund(t *testing.T) {
	f := newEngineFixture(t)

	f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.store.addTraveler("X", "Xel", 1, 30, 5)
	f.store.addTraveler("Y", "Yara", 1, 30, 5)
	f.store.addTraveler("Z", "Zed", 1, 10, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	for _, id := range []string{"X", "Y", "Z"} {
		f.idx.SetLoggedIn(id, true)
		f.idx.Set(id, presence.Presence{Kind: presence.AtLocation, LocationID: 1, Status: character.StatusInSpace})
	}

	_, err := f.engine.InitiateGroup(context.Background(), []string{"X", "Y", "Z"}, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Zed", "failure names the short member")

	assert.Equal(t, 30, f.store.fuel("X"))
	assert.Equal(t, 30, f.store.fuel("Y"))
	assert.Equal(t, 10, f.store.fuel("Z"))
	assert.Equal(t, 0, f.fake.CreateCalls, "no transit channel on an aborted batch")
	assert.Empty(t, f.store.sessions)
}

func TestGroupTravelSharedTransit(t *testing.T) {
	f := newEngineFixture(t)

	originRef := f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	gid := int64(9)
	for _, m := range []struct{ id, name string }{{"X", "Xel"}, {"Y", "Yara"}} {
		f.store.addTraveler(m.id, m.name, 1, 50, 5)
		f.store.travelers[m.id].GroupID = &gid
		f.placeAt(t, m.id, m.name, originRef)
	}
	f.store.addCorridor(7, 1, 2, 600, 20)

	sessions, err := f.engine.InitiateGroup(context.Background(), []string{"X", "Y"}, 7)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	first := f.transitChannel(t, sessions[0].ID)
	second := f.transitChannel(t, sessions[1].ID)
	assert.Equal(t, first.ID, second.ID, "one transit channel for the convoy")
	assert.Len(t, first.Access, 2)
	assert.Equal(t, sessions[0].EndAt, sessions[1].EndAt, "convoy arrives together")

	f.clk.Advance(720 * time.Second)

	assert.Equal(t, StatusArrived, f.store.session(sessions[0].ID).Status)
	assert.Equal(t, StatusArrived, f.store.session(sessions[1].ID).Status)
	assert.Equal(t, int64(2), f.store.groupLoc[gid], "group location synced to destination")
}

func TestEmergencyExitReturnsToOrigin(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	originRef := f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	f.store.addTraveler("A", "Avery", 1, 50, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	f.placeAt(t, "A", "Avery", originRef)

	session, err := f.engine.Initiate(ctx, "A", 7)
	require.NoError(t, err)

	f.clk.Advance(100 * time.Second)
	require.NoError(t, f.engine.EmergencyExit(ctx, "A"))

	assert.Equal(t, StatusEmergencyExit, f.store.session(session.ID).Status)
	snapshot, err := f.store.TravelerSnapshot(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, snapshot.LocationID)
	assert.Equal(t, int64(1), *snapshot.LocationID)
	assert.Equal(t, character.StatusInSpace, snapshot.LocationStatus)

	// The original arrival timer fires into a terminal session.
	f.clk.Advance(620 * time.Second)
	assert.Equal(t, StatusEmergencyExit, f.store.session(session.ID).Status)
	assert.Equal(t, int64(1), *f.store.travelers["A"].LocationID, "no late teleport to the destination")
}

func TestDeathDuringTransit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	originRef := f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	f.store.addTraveler("A", "Avery", 1, 50, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	f.placeAt(t, "A", "Avery", originRef)

	session, err := f.engine.Initiate(ctx, "A", 7)
	require.NoError(t, err)
	transitID := f.transitChannel(t, session.ID).ID

	f.clk.Advance(100 * time.Second)
	require.NoError(t, f.engine.TerminateForDeath(ctx, "A"))
	assert.Equal(t, StatusDeath, f.store.session(session.ID).Status)

	f.clk.Advance(45 * time.Second)
	assert.Nil(t, f.fake.Channel(transitID), "transit channel cleaned up after death")

	f.clk.Advance(620 * time.Second)
	assert.Equal(t, StatusDeath, f.store.session(session.ID).Status)
	destInfo, err := f.chans.Entity(ctx, channel.EntityRef{Kind: gateway.KindStation, ID: 2})
	require.NoError(t, err)
	assert.Nil(t, destInfo.ChannelID, "arrival handler never touched the destination")
}

func TestDiversionRetargetsArrival(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	originRef := f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	f.chans.addLocation(gateway.KindOutpost, 3, "Relay Nine")
	f.store.addTraveler("A", "Avery", 1, 50, 5)
	f.store.addCorridor(7, 1, 2, 600, 20)
	f.store.locTypes[3] = galaxy.LocationOutpost
	f.store.events[7] = []HazardEvent{{
		ID: 1, CorridorID: 7, Kind: HazardDiversion, AtFraction: 0.5,
		DivertToID: 3, DivertToName: "Relay Nine", Description: "Debris field across the lane.",
	}}
	f.placeAt(t, "A", "Avery", originRef)

	session, err := f.engine.Initiate(ctx, "A", 7)
	require.NoError(t, err)

	f.clk.Advance(360 * time.Second)
	assert.Equal(t, StatusDiverted, f.store.session(session.ID).Status)

	f.clk.Advance(360 * time.Second)
	assert.Equal(t, StatusArrived, f.store.session(session.ID).Status)
	snapshot, err := f.store.TravelerSnapshot(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *snapshot.LocationID, "arrival lands at the diverted destination")
}

func TestRecoverOrphans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.chans.addLocation(gateway.KindColony, 1, "New Terra")
	f.chans.addLocation(gateway.KindStation, 2, "Kepler Station")
	f.store.addTraveler("A", "Avery", 1, 50, 5)

	// A session whose arrival timer was lost, stuck well past its end.
	start := f.clk.Now().Add(-time.Hour)
	f.store.sessions["stuck"] = &Session{
		ID: "stuck", UserID: "A", OriginID: 1, DestinationID: 2, CorridorID: 7,
		StartedAt: start, EndAt: start.Add(12 * time.Minute), Status: StatusTraveling,
	}
	f.store.addCorridor(7, 1, 2, 600, 20)

	n, err := f.engine.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusArrived, f.store.session("stuck").Status)
}
