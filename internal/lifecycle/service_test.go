package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"quietend-server/internal/channel"
	"quietend-server/internal/character"
	"quietend-server/internal/galaxy"
	"quietend-server/internal/gateway"
	"quietend-server/internal/home"
	"quietend-server/internal/presence"
	"quietend-server/internal/ship"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu         sync.Mutex
	chars      map[string]*character.Character
	ships      map[int64]*ship.Ship
	homes      map[int64]*home.Home
	locTypes   map[int64]galaxy.LocationType
	invites    []EntryInvite
	nextShipID int64
}

func newMemStore() *memStore {
	return &memStore{
		chars:    make(map[string]*character.Character),
		ships:    make(map[int64]*ship.Ship),
		homes:    make(map[int64]*home.Home),
		locTypes: make(map[int64]galaxy.LocationType),
	}
}

func (s *memStore) addCharacterAt(id, name string, locationID int64) *character.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := locationID
	c := &character.Character{
		ID: id, Name: name, Callsign: name,
		HP: 100, MaxHP: 100, Credits: 500, Level: 1,
		CurrentLocationID: &loc, LocationStatus: character.StatusDocked,
	}
	s.chars[id] = c
	return c
}

func (s *memStore) addShip(ownerID string, dockedAt int64) *ship.Ship {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextShipID++
	loc := dockedAt
	sh := &ship.Ship{
		ID: s.nextShipID, OwnerID: ownerID, Name: "Test Ship", Type: "shuttle",
		Fuel: 50, FuelCap: 100, FuelEfficiency: 5, DockedAtLocationID: &loc,
	}
	s.ships[sh.ID] = sh
	if c, ok := s.chars[ownerID]; ok {
		id := sh.ID
		c.ActiveShipID = &id
	}
	return sh
}

func (s *memStore) addHome(ownerID *string, locationID int64, name string) *home.Home {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &home.Home{
		ID: int64(len(s.homes) + 1), OwnerID: ownerID,
		LocationID: locationID, Name: name, Price: 1000,
	}
	s.homes[h.ID] = h
	return h
}

func (s *memStore) Character(_ context.Context, id string) (*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[id]
	if !ok {
		return nil, errors.NotFoundf("character %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) CreateCharacter(_ context.Context, id, name, callsign string, startLocationID int64) (*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := startLocationID
	c := &character.Character{
		ID: id, Name: name, Callsign: callsign,
		HP: 100, MaxHP: 100, Credits: 500, Level: 1,
		CurrentLocationID: &loc, LocationStatus: character.StatusDocked,
	}
	s.chars[id] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) CreateStarterShip(_ context.Context, ownerID, name string, dockedAt int64) (*ship.Ship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextShipID++
	loc := dockedAt
	sh := &ship.Ship{
		ID: s.nextShipID, OwnerID: ownerID, Name: name, Type: "shuttle",
		Fuel: 100, FuelCap: 100, FuelEfficiency: 5, DockedAtLocationID: &loc,
	}
	s.ships[sh.ID] = sh
	cp := *sh
	return &cp, nil
}

func (s *memStore) SetActiveShip(_ context.Context, id string, shipID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chars[id].ActiveShipID = shipID
	return nil
}

func (s *memStore) SetLoggedIn(_ context.Context, id string, loggedIn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[id]
	if !ok {
		return errors.NotFoundf("character %s not found", id)
	}
	c.IsLoggedIn = loggedIn
	return nil
}

func (s *memStore) PlaceAtLocation(_ context.Context, id string, locationID int64, status character.LocationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chars[id]
	loc := locationID
	c.CurrentLocationID = &loc
	c.LocationStatus = status
	c.CurrentShipID = nil
	c.CurrentHomeID = nil
	c.CurrentThreadID = nil
	c.ThreadLocationID = nil
	return nil
}

func (s *memStore) PlaceOnShip(_ context.Context, id string, shipID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chars[id]
	sid := shipID
	c.CurrentLocationID = nil
	c.CurrentShipID = &sid
	c.CurrentHomeID = nil
	c.CurrentThreadID = nil
	c.ThreadLocationID = nil
	return nil
}

func (s *memStore) PlaceInHome(_ context.Context, id string, homeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chars[id]
	hid := homeID
	c.CurrentLocationID = nil
	c.CurrentShipID = nil
	c.CurrentHomeID = &hid
	c.CurrentThreadID = nil
	c.ThreadLocationID = nil
	return nil
}

func (s *memStore) PlaceInSubArea(_ context.Context, id, threadID string, parentLocationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chars[id]
	tid := threadID
	loc := parentLocationID
	c.CurrentLocationID = nil
	c.CurrentShipID = nil
	c.CurrentHomeID = nil
	c.CurrentThreadID = &tid
	c.ThreadLocationID = &loc
	return nil
}

func (s *memStore) Ship(_ context.Context, id int64) (*ship.Ship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ships[id]
	if !ok {
		return nil, errors.NotFoundf("ship %d not found", id)
	}
	cp := *sh
	return &cp, nil
}

func (s *memStore) Home(_ context.Context, id int64) (*home.Home, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.homes[id]
	if !ok {
		return nil, errors.NotFoundf("home %d not found", id)
	}
	cp := *h
	return &cp, nil
}

func (s *memStore) LocationType(_ context.Context, locationID int64) (galaxy.LocationType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.locTypes[locationID]
	if !ok {
		return galaxy.LocationColony, nil
	}
	return t, nil
}

func (s *memStore) DeleteCascade(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, sh := range s.ships {
		if sh.OwnerID == id {
			delete(s.ships, sid)
		}
	}
	for _, h := range s.homes {
		if h.OwnerID != nil && *h.OwnerID == id {
			h.OwnerID = nil
		}
	}
	delete(s.chars, id)
	return nil
}

func (s *memStore) CreateEntryInvite(_ context.Context, inv *EntryInvite) (*EntryInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites = append(s.invites, *inv)
	cp := *inv
	return &cp, nil
}

func (s *memStore) ConsumeEntryInvite(_ context.Context, kind EntryKind, targetID int64, toUserID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inv := range s.invites {
		if inv.Kind == kind && inv.TargetID == targetID && inv.ToUserID == toUserID && inv.ExpiresAt.After(now) {
			s.invites = append(s.invites[:i], s.invites[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// chanStore backs the channel manager in service tests.
type chanStore struct {
	mu       sync.Mutex
	entities map[channel.EntityRef]*channel.EntityInfo
	panels   map[string]*string
	subAreas map[int64]*channel.SubArea
	nextSub  int64
}

func newChanStore() *chanStore {
	return &chanStore{
		entities: make(map[channel.EntityRef]*channel.EntityInfo),
		panels:   make(map[string]*string),
		subAreas: make(map[int64]*channel.SubArea),
	}
}

func (s *chanStore) addEntity(kind gateway.ChannelKind, id int64, name string) channel.EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := channel.EntityRef{Kind: kind, ID: id}
	s.entities[ref] = &channel.EntityInfo{Ref: ref, Name: name, Description: "a place", Services: 1, Wealth: 3}
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

func (s *chanStore) SubAreaByName(_ context.Context, locationID int64, name string) (*channel.SubArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.subAreas {
		if sa.LocationID == locationID && sa.Name == name {
			cp := *sa
			return &cp, nil
		}
	}
	return nil, errors.NotFoundf("no sub-area %q at location %d", name, locationID)
}

func (s *chanStore) SubAreaByThread(_ context.Context, threadID string) (*channel.SubArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.subAreas {
		if sa.ThreadID == threadID {
			cp := *sa
			return &cp, nil
		}
	}
	return nil, errors.NotFoundf("no sub-area for thread %s", threadID)
}

func (s *chanStore) CreateSubArea(_ context.Context, locationID int64, name, threadID string) (*channel.SubArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sa := &channel.SubArea{ID: s.nextSub, LocationID: locationID, Name: name, ThreadID: threadID}
	s.subAreas[sa.ID] = sa
	cp := *sa
	return &cp, nil
}

func (s *chanStore) DeleteSubArea(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subAreas, id)
	return nil
}

type fakeTerminator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTerminator) TerminateForDeath(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return nil
}

type fakeLeaver struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLeaver) Leave(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return nil
}

type serviceFixture struct {
	svc    *Service
	store  *memStore
	chans  *chanStore
	fake   *gateway.Fake
	idx    *presence.Index
	clk    *clock.Mock
	travel *fakeTerminator
	groups *fakeLeaver
}

const startLocation = int64(1)

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := newMemStore()
	chans := newChanStore()
	fake := gateway.NewFake()
	idx := presence.NewIndex()
	clk := clock.NewMock()
	cfg := config.GameConfig{
		MaxLocationChannels:     50,
		IdleGrace:               2 * time.Hour,
		IdleGraceUnderPressure:  30 * time.Minute,
		CleanupBatchSize:        5,
		AutoCleanupEnabled:      true,
		InviteDuration:          10 * time.Minute,
		LogoutChannelCheckDelay: 1500 * time.Millisecond,
	}
	mgr := channel.NewManager(fake, chans, idx, channel.NewActivity(nil), clk, cfg, "guild-1")
	sub := channel.NewSubAreas(fake, mgr, chans, idx)
	travel := &fakeTerminator{}
	groups := &fakeLeaver{}
	svc := NewService(store, mgr, sub, idx, travel, groups, fake, clk, cfg, startLocation)

	chans.addEntity(gateway.KindColony, startLocation, "landing-zone")
	return &serviceFixture{
		svc: svc, store: store, chans: chans, fake: fake,
		idx: idx, clk: clk, travel: travel, groups: groups,
	}
}

// placeLoggedIn stands a character at a location as if they logged in there.
func (f *serviceFixture) placeLoggedIn(t *testing.T, id, name string, locationID int64) {
	t.Helper()
	f.store.addCharacterAt(id, name, locationID)
	require.NoError(t, f.store.SetLoggedIn(context.Background(), id, true))
	f.idx.SetLoggedIn(id, true)
	f.idx.Set(id, presence.Presence{
		Kind:       presence.AtLocation,
		LocationID: locationID,
		Status:     character.StatusDocked,
	})
}

func (f *serviceFixture) channelID(t *testing.T, kind gateway.ChannelKind, id int64) string {
	t.Helper()
	info, err := f.chans.Entity(context.Background(), channel.EntityRef{Kind: kind, ID: id})
	require.NoError(t, err)
	require.NotNil(t, info.ChannelID)
	return *info.ChannelID
}

func TestFindOrCreateProvisionsStarterShip(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	c, err := f.svc.FindOrCreate(ctx, "U1", "Ash", "ASH-7")
	require.NoError(t, err)
	require.NotNil(t, c.ActiveShipID)
	require.NotNil(t, c.CurrentLocationID)
	assert.Equal(t, startLocation, *c.CurrentLocationID)

	sh, err := f.store.Ship(ctx, *c.ActiveShipID)
	require.NoError(t, err)
	assert.Equal(t, "U1", sh.OwnerID)
	assert.Equal(t, "ASH-7 Mk I", sh.Name)

	again, err := f.svc.FindOrCreate(ctx, "U1", "Ash", "ASH-7")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, f.store.ships, 1, "second lookup must not mint another ship")
}

func TestLoginAnnouncesAtStoredLocation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addCharacterAt("U1", "Ash", startLocation)
	f.idx.Set("U1", presence.Presence{Kind: presence.AtLocation, LocationID: startLocation, Status: character.StatusDocked})

	require.NoError(t, f.svc.Login(ctx, "U1"))

	chID := f.channelID(t, gateway.KindColony, startLocation)
	ch := f.fake.Channel(chID)
	require.NotNil(t, ch)
	assert.True(t, ch.Access["U1"].Read, "login must grant location access")

	c, err := f.store.Character(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, c.IsLoggedIn)
}

func TestLogoutPostsDepartureWhenOthersRemain(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	f.placeLoggedIn(t, "U2", "Bex", startLocation)
	require.NoError(t, f.svc.Login(ctx, "U1"))
	require.NoError(t, f.svc.Login(ctx, "U2"))

	chID := f.channelID(t, gateway.KindColony, startLocation)

	require.NoError(t, f.svc.Logout(ctx, "U1"))

	// Logout also clears Ash's tracked panel message, so the message count
	// is no signal; look for the departure embed itself.
	ch := f.fake.Channel(chID)
	departed := false
	for _, m := range ch.Messages {
		if strings.Contains(m.Embed.Description, "**Ash** has departed") {
			departed = true
		}
	}
	assert.True(t, departed, "departure embed expected while Bex remains")
	assert.False(t, ch.Access["U1"].Read, "logout must revoke access")

	// The location keeps its channel through the empty-check delay; only
	// the idle grace retires it.
	require.NoError(t, f.svc.Logout(ctx, "U2"))
	f.clk.Advance(2 * time.Second)
	assert.NotNil(t, f.fake.Channel(chID))
}

func TestBoardingInviteFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	f.placeLoggedIn(t, "U2", "Bex", startLocation)
	sh := f.store.addShip("U1", startLocation)
	f.chans.addEntity(gateway.KindShip, sh.ID, sh.Name)

	err := f.svc.EnterShip(ctx, "U2", sh.ID)
	require.Error(t, err, "boarding without an invitation must fail")

	require.NoError(t, f.svc.InviteToShip(ctx, "U1", "U2"))
	dmID, err := f.fake.OpenDM(ctx, "U2")
	require.NoError(t, err)
	require.NotEmpty(t, f.fake.Channel(dmID).Messages, "invitee gets a DM")

	require.NoError(t, f.svc.EnterShip(ctx, "U2", sh.ID))
	assert.Equal(t, presence.OnShip, f.idx.WhereIs("U2").Kind)

	shipCh := f.channelID(t, gateway.KindShip, sh.ID)
	assert.True(t, f.fake.Channel(shipCh).Access["U2"].Read)

	// The invitation is single use.
	require.NoError(t, f.svc.LeaveShip(ctx, "U2"))
	err = f.svc.EnterShip(ctx, "U2", sh.ID)
	require.Error(t, err)
}

func TestEnterShipRequiresSameDock(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.chans.addEntity(gateway.KindColony, 2, "far-colony")
	f.placeLoggedIn(t, "U1", "Ash", 2)
	sh := f.store.addShip("U1", startLocation)

	err := f.svc.EnterShip(ctx, "U1", sh.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not docked here")
}

func TestLeaveShipReclaimsInterior(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	sh := f.store.addShip("U1", startLocation)
	f.chans.addEntity(gateway.KindShip, sh.ID, sh.Name)

	require.NoError(t, f.svc.EnterShip(ctx, "U1", sh.ID))
	shipCh := f.channelID(t, gateway.KindShip, sh.ID)

	require.NoError(t, f.svc.LeaveShip(ctx, "U1"))
	assert.Equal(t, presence.AtLocation, f.idx.WhereIs("U1").Kind)

	f.clk.Advance(2 * time.Second)
	assert.Nil(t, f.fake.Channel(shipCh), "empty interior is reclaimed after the check delay")

	info, err := f.chans.Entity(ctx, channel.EntityRef{Kind: gateway.KindShip, ID: sh.ID})
	require.NoError(t, err)
	assert.Nil(t, info.ChannelID)
}

func TestHomeOwnerAndGuestEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	f.placeLoggedIn(t, "U2", "Bex", startLocation)
	owner := "U1"
	h := f.store.addHome(&owner, startLocation, "The Burrow")
	f.chans.addEntity(gateway.KindHome, h.ID, h.Name)

	require.NoError(t, f.svc.EnterHome(ctx, "U1", h.ID))
	assert.Equal(t, presence.InHome, f.idx.WhereIs("U1").Kind)

	err := f.svc.EnterHome(ctx, "U2", h.ID)
	require.Error(t, err, "guests need an invitation")

	require.NoError(t, f.svc.InviteToHome(ctx, "U1", "U2", h.ID))
	require.NoError(t, f.svc.EnterHome(ctx, "U2", h.ID))

	homeCh := f.channelID(t, gateway.KindHome, h.ID)
	assert.True(t, f.fake.Channel(homeCh).Access["U2"].Read)
}

func TestSubAreaSharedThreadLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	f.placeLoggedIn(t, "U2", "Bex", startLocation)

	require.NoError(t, f.svc.EnterSubArea(ctx, "U1", "market district"))
	require.NoError(t, f.svc.EnterSubArea(ctx, "U2", "market district"))

	p1 := f.idx.WhereIs("U1")
	p2 := f.idx.WhereIs("U2")
	assert.Equal(t, presence.InSubArea, p1.Kind)
	assert.Equal(t, p1.ThreadID, p2.ThreadID, "same name shares one thread")

	thread := f.fake.Channel(p1.ThreadID)
	require.NotNil(t, thread)
	assert.True(t, thread.IsThread)

	require.NoError(t, f.svc.LeaveSubArea(ctx, "U1"))
	assert.NotNil(t, f.fake.Channel(p1.ThreadID), "thread survives while occupied")

	require.NoError(t, f.svc.LeaveSubArea(ctx, "U2"))
	assert.Nil(t, f.fake.Channel(p1.ThreadID), "empty thread is deleted")
}

func TestDeleteRunsFullCascade(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.placeLoggedIn(t, "U1", "Ash", startLocation)
	f.store.addShip("U1", startLocation)
	owner := "U1"
	h := f.store.addHome(&owner, startLocation, "The Burrow")
	gid := int64(7)
	f.store.chars["U1"].GroupID = &gid

	require.NoError(t, f.svc.Delete(ctx, "U1"))

	assert.Equal(t, []string{"U1"}, f.travel.calls)
	assert.Equal(t, []string{"U1"}, f.groups.calls)

	_, err := f.store.Character(ctx, "U1")
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err))
	assert.Empty(t, f.store.ships, "ships go with the character")
	assert.Nil(t, f.store.homes[h.ID].OwnerID, "homes are released, not deleted")
	assert.Equal(t, presence.Offline, f.idx.WhereIs("U1").Kind)
}
