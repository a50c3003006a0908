package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"
	"quietend-server/internal/travel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for coordinator tests.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	groups  map[int64]*Group
	members map[string]*Member
	invites map[string]*Invitation
	votes   map[string]*VoteSession
	choices map[string]map[string]Choice
}

func newMemStore() *memStore {
	return &memStore{
		groups:  make(map[int64]*Group),
		members: make(map[string]*Member),
		invites: make(map[string]*Invitation),
		votes:   make(map[string]*VoteSession),
		choices: make(map[string]map[string]Choice),
	}
}

func (s *memStore) addCharacter(userID, name string, locationID int64) {
	loc := locationID
	s.members[userID] = &Member{UserID: userID, Name: name, LocationID: &loc}
}

func (s *memStore) CreateGroup(_ context.Context, name, leaderID string, locationID *int64) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	g := &Group{ID: s.nextID, Name: name, LeaderID: leaderID, CurrentLocationID: locationID, Status: StatusActive}
	s.groups[g.ID] = g
	return g, nil
}

func (s *memStore) Group(_ context.Context, groupID int64) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, errors.NotFoundf("group %d not found", groupID)
	}
	out := *g
	return &out, nil
}

func (s *memStore) Members(_ context.Context, groupID int64) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Member
	for _, m := range s.members {
		if m.GroupID != nil && *m.GroupID == groupID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) MemberInfo(_ context.Context, userID string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[userID]
	if !ok {
		return nil, errors.NotFoundf("character %s not found", userID)
	}
	out := *m
	return &out, nil
}

func (s *memStore) SetMemberGroup(_ context.Context, userID string, groupID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[userID].GroupID = groupID
	return nil
}

func (s *memStore) SetLeader(_ context.Context, groupID int64, leaderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID].LeaderID = leaderID
	return nil
}

func (s *memStore) SetGroupLocation(_ context.Context, groupID, locationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := locationID
	s.groups[groupID].CurrentLocationID = &loc
	return nil
}

func (s *memStore) Dissolve(_ context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID].Status = StatusDissolved
	return nil
}

func (s *memStore) CreateInvitation(_ context.Context, inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invites {
		if existing.GroupID == inv.GroupID && existing.InviteeID == inv.InviteeID && existing.ExpiresAt.After(inv.CreatedAt) {
			return errors.Conflictf("an invitation for that character is already pending")
		}
	}
	copied := inv
	s.invites[inv.ID] = &copied
	return nil
}

func (s *memStore) Invitation(_ context.Context, id string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return nil, errors.NotFoundf("invitation %s not found", id)
	}
	out := *inv
	return &out, nil
}

func (s *memStore) DeleteInvitation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invites, id)
	return nil
}

func (s *memStore) DeleteExpiredInvitations(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, inv := range s.invites {
		if !inv.ExpiresAt.After(now) {
			delete(s.invites, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateVote(_ context.Context, v VoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.votes {
		if existing.GroupID == v.GroupID {
			return errors.Conflictf("the group already has an open vote")
		}
	}
	copied := v
	s.votes[v.ID] = &copied
	s.choices[v.ID] = make(map[string]Choice)
	return nil
}

func (s *memStore) VoteSession(_ context.Context, id string) (*VoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[id]
	if !ok {
		return nil, errors.NotFoundf("vote session %s not found", id)
	}
	out := *v
	return &out, nil
}

func (s *memStore) CastVote(_ context.Context, sessionID, userID string, choice Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.votes[sessionID]; !ok {
		return errors.NotFoundf("vote session %s not found", sessionID)
	}
	s.choices[sessionID][userID] = choice
	return nil
}

func (s *memStore) Votes(_ context.Context, sessionID string) (map[string]Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Choice, len(s.choices[sessionID]))
	for k, v := range s.choices[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) ClaimVote(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.votes[sessionID]; !ok {
		return false, nil
	}
	delete(s.votes, sessionID)
	delete(s.choices, sessionID)
	return true, nil
}

func (s *memStore) ExpiredVotes(_ context.Context, now time.Time) ([]VoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VoteSession
	for _, v := range s.votes {
		if !v.ExpiresAt.After(now) {
			out = append(out, *v)
		}
	}
	return out, nil
}

// fakeStarter records group travel calls.
type fakeStarter struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeStarter) InitiateGroup(_ context.Context, userIDs []string, _ int64) ([]travel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, append([]string(nil), userIDs...))
	return nil, nil
}

func (f *fakeStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		VoteDuration:   10 * time.Minute,
		InviteDuration: 10 * time.Minute,
	}
}

type fixture struct {
	coord   *Coordinator
	store   *memStore
	starter *fakeStarter
	fake    *gateway.Fake
	clk     *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	starter := &fakeStarter{}
	fake := gateway.NewFake()
	fake.AddChannel("chan-vote", "crew-hall")
	clk := clock.NewMock()
	return &fixture{
		coord:   NewCoordinator(store, starter, nil, fake, clk, testGameConfig()),
		store:   store,
		starter: starter,
		fake:    fake,
		clk:     clk,
	}
}

// crewOfThree forms leader X with members Y and Z at location 1.
func (f *fixture) crewOfThree(t *testing.T) *Group {
	t.Helper()
	ctx := context.Background()
	f.store.addCharacter("X", "Xel", 1)
	f.store.addCharacter("Y", "Yara", 1)
	f.store.addCharacter("Z", "Zed", 1)

	g, err := f.coord.CreateGroup(ctx, "X", "The Quiet End")
	require.NoError(t, err)
	for _, id := range []string{"Y", "Z"} {
		inv, err := f.coord.Invite(ctx, "X", id)
		require.NoError(t, err)
		_, err = f.coord.Accept(ctx, id, inv.ID)
		require.NoError(t, err)
	}
	return g
}

func TestInviteLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addCharacter("X", "Xel", 1)
	f.store.addCharacter("Y", "Yara", 1)

	g, err := f.coord.CreateGroup(ctx, "X", "The Quiet End")
	require.NoError(t, err)

	inv, err := f.coord.Invite(ctx, "X", "Y")
	require.NoError(t, err)

	_, err = f.coord.Invite(ctx, "X", "Y")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConflict, errors.GetType(err), "duplicate live invitation rejected")

	joined, err := f.coord.Accept(ctx, "Y", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, joined.ID)

	member, err := f.store.MemberInfo(ctx, "Y")
	require.NoError(t, err)
	require.NotNil(t, member.GroupID)
	assert.Equal(t, g.ID, *member.GroupID)
}

func TestInviteExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addCharacter("X", "Xel", 1)
	f.store.addCharacter("Y", "Yara", 1)

	_, err := f.coord.CreateGroup(ctx, "X", "The Quiet End")
	require.NoError(t, err)
	inv, err := f.coord.Invite(ctx, "X", "Y")
	require.NoError(t, err)

	f.clk.Advance(11 * time.Minute)

	_, err = f.coord.Accept(ctx, "Y", inv.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestOnlyLeaderInvites(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	f.store.addCharacter("W", "Wren", 1)

	_, err := f.coord.Invite(context.Background(), "Y", "W")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader")
}

func TestOneActiveVotePerGroup(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()

	_, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)

	_, err = f.coord.StartTravelVote(ctx, "X", 8, "chan-vote")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConflict, errors.GetType(err))
}

func TestTravelVoteSyncsGroupLocation(t *testing.T) {
	f := newFixture(t)
	g := f.crewOfThree(t)
	ctx := context.Background()

	// Group drifted: stored location is stale relative to the leader.
	stale := int64(99)
	f.store.groups[g.ID].CurrentLocationID = &stale

	_, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)
	assert.Equal(t, int64(1), *f.store.groups[g.ID].CurrentLocationID)

	// A leader with no location cannot open one.
	won, err := f.store.ClaimVote(ctx, f.openVoteID(t, g.ID))
	require.NoError(t, err)
	require.True(t, won)
	f.store.members["X"].LocationID = nil
	_, err = f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no location")
}

func (f *fixture) openVoteID(t *testing.T, groupID int64) string {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for id, v := range f.store.votes {
		if v.GroupID == groupID {
			return id
		}
	}
	t.Fatal("no open vote for group")
	return ""
}

func TestVotePassesOnStrictMajority(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()

	session, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)

	require.NoError(t, f.coord.CastVote(ctx, "X", session.ID, ChoiceYes))
	require.NoError(t, f.coord.CastVote(ctx, "Y", session.ID, ChoiceYes))
	assert.Equal(t, 0, f.starter.callCount(), "no tally before quorum or timeout")

	// Last ballot closes the vote early.
	require.NoError(t, f.coord.CastVote(ctx, "Z", session.ID, ChoiceNo))

	require.Equal(t, 1, f.starter.callCount())
	assert.ElementsMatch(t, []string{"X", "Y", "Z"}, f.starter.calls[0])

	_, err = f.store.VoteSession(ctx, session.ID)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err), "session row deleted by the tally")

	// The creation timer fires later into the deleted row and stays quiet.
	f.clk.Advance(10 * time.Minute)
	assert.Equal(t, 1, f.starter.callCount())
}

func TestVoteMemberMayChangeBallot(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()

	session, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)

	require.NoError(t, f.coord.CastVote(ctx, "X", session.ID, ChoiceNo))
	require.NoError(t, f.coord.CastVote(ctx, "X", session.ID, ChoiceYes))
	require.NoError(t, f.coord.CastVote(ctx, "Y", session.ID, ChoiceYes))
	require.NoError(t, f.coord.CastVote(ctx, "Z", session.ID, ChoiceNo))

	assert.Equal(t, 1, f.starter.callCount(), "updated ballot counted as yes")
}

func TestVoteTimeoutAbsentCountsAsNo(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()

	session, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)
	require.NoError(t, f.coord.CastVote(ctx, "X", session.ID, ChoiceYes))

	f.clk.Advance(10 * time.Minute)

	assert.Equal(t, 0, f.starter.callCount(), "one yes of three is not a majority")
	_, err = f.store.VoteSession(ctx, session.ID)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err), "session row deleted on timeout")

	msgs := f.fake.Channel("chan-vote")
	require.NotNil(t, msgs)
	last := msgs.Messages[len(msgs.Messages)-1]
	assert.Contains(t, last.Embed.Description, "timed out")
}

func TestFailedGroupTravelPostsOutcome(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()
	f.starter.err = errors.Validationf("insufficient fuel (Zed)")

	session, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)
	for _, id := range []string{"X", "Y", "Z"} {
		require.NoError(t, f.coord.CastVote(ctx, id, session.ID, ChoiceYes))
	}

	msgs := f.fake.Channel("chan-vote")
	require.NotNil(t, msgs)
	last := msgs.Messages[len(msgs.Messages)-1]
	assert.Contains(t, last.Embed.Description, "group travel failed")
	assert.Contains(t, last.Embed.Description, "insufficient fuel (Zed)")
}

func TestSweepExpiredTalliesLostVotes(t *testing.T) {
	f := newFixture(t)
	f.crewOfThree(t)
	ctx := context.Background()

	session, err := f.coord.StartTravelVote(ctx, "X", 7, "chan-vote")
	require.NoError(t, err)
	for _, id := range []string{"X", "Y"} {
		require.NoError(t, f.coord.CastVote(ctx, id, session.ID, ChoiceYes))
	}

	// Simulate a lost timer: move the row's expiry behind the clock and
	// sweep without advancing timers.
	f.store.mu.Lock()
	f.store.votes[session.ID].ExpiresAt = f.clk.Now().Add(-time.Second)
	f.store.mu.Unlock()

	require.NoError(t, f.coord.SweepExpired(ctx))
	assert.Equal(t, 1, f.starter.callCount(), "two yes of three passes even at timeout")
}

func TestLeaveTransfersLeadershipThenDissolves(t *testing.T) {
	f := newFixture(t)
	g := f.crewOfThree(t)
	ctx := context.Background()

	require.NoError(t, f.coord.Leave(ctx, "X"))
	got, err := f.store.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "X", got.LeaderID)
	assert.Equal(t, StatusActive, got.Status)

	require.NoError(t, f.coord.Leave(ctx, "Y"))
	require.NoError(t, f.coord.Leave(ctx, "Z"))
	got, err = f.store.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDissolved, got.Status)
}
