package group

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/gateway"
	"quietend-server/internal/metrics"
	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"
	"quietend-server/internal/travel"

	"github.com/google/uuid"
)

// TravelStarter is the slice of the travel engine the coordinator drives
// after a passed travel vote.
type TravelStarter interface {
	InitiateGroup(ctx context.Context, userIDs []string, corridorID int64) ([]travel.Session, error)
}

// JobBoard marks a job taken by a whole group after a passed job vote.
// Nil is allowed when no job system is attached.
type JobBoard interface {
	AssignJobToGroup(ctx context.Context, jobID, groupID int64, memberIDs []string) error
}

// Coordinator runs group membership and vote sessions. A vote session row
// is tallied by whichever actor deletes it first, so early close, timer
// expiry and the reaper backstop never double-run an outcome.
type Coordinator struct {
	store  Store
	travel TravelStarter
	jobs   JobBoard
	gw     gateway.Gateway
	clk    clock.Clock
	cfg    config.GameConfig
	logger *slog.Logger
}

func NewCoordinator(store Store, starter TravelStarter, jobs JobBoard, gw gateway.Gateway, clk clock.Clock, cfg config.GameConfig) *Coordinator {
	logger := slog.With("component", "group_coordinator")
	logger.Debug("Initializing group coordinator")

	return &Coordinator{
		store:  store,
		travel: starter,
		jobs:   jobs,
		gw:     gw,
		clk:    clk,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateGroup forms a new crew with the caller as leader.
func (c *Coordinator) CreateGroup(ctx context.Context, leaderID, name string) (*Group, error) {
	leader, err := c.store.MemberInfo(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if leader.GroupID != nil {
		return nil, errors.Conflictf("%s is already in a group", leader.Name)
	}

	g, err := c.store.CreateGroup(ctx, name, leaderID, leader.LocationID)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetMemberGroup(ctx, leaderID, &g.ID); err != nil {
		return nil, err
	}

	c.logger.Info("Group created", "group_id", g.ID, "leader_id", leaderID, "name", name)
	return g, nil
}

// Invite sends a join offer to a character. Only the leader may invite;
// a duplicate live invitation for the same pair is rejected.
func (c *Coordinator) Invite(ctx context.Context, inviterID, inviteeID string) (*Invitation, error) {
	inviter, err := c.store.MemberInfo(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	if inviter.GroupID == nil {
		return nil, errors.Validationf("%s is not in a group", inviter.Name)
	}
	g, err := c.store.Group(ctx, *inviter.GroupID)
	if err != nil {
		return nil, err
	}
	if g.LeaderID != inviterID {
		return nil, errors.Validationf("only the group leader can invite")
	}

	invitee, err := c.store.MemberInfo(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if invitee.GroupID != nil {
		return nil, errors.Conflictf("%s is already in a group", invitee.Name)
	}

	now := c.clk.Now()
	inv := Invitation{
		ID:        uuid.NewString(),
		GroupID:   g.ID,
		InviterID: inviterID,
		InviteeID: inviteeID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.InviteDuration),
	}
	if err := c.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	c.sendInviteDM(ctx, inviteeID, g, inviter.Name)
	c.logger.Info("Invitation sent", "group_id", g.ID, "inviter_id", inviterID, "invitee_id", inviteeID)
	return &inv, nil
}

func (c *Coordinator) sendInviteDM(ctx context.Context, inviteeID string, g *Group, inviterName string) {
	dm, err := c.gw.OpenDM(ctx, inviteeID)
	if err != nil {
		c.logger.Warn("Failed to open invite DM", "invitee_id", inviteeID, "error", err)
		return
	}
	_, err = c.gw.Send(ctx, dm, gateway.Embed{
		Title:       "Group Invitation",
		Description: fmt.Sprintf("**%s** has invited you to join **%s**.", inviterName, g.Name),
		Footer:      fmt.Sprintf("Expires in %d minutes", int(c.cfg.InviteDuration.Minutes())),
		Color:       gateway.ColorNeutral,
	})
	if err != nil {
		c.logger.Warn("Failed to send invite DM", "invitee_id", inviteeID, "error", err)
	}
}

// Accept joins the invitee to the inviting group if the offer is still live.
func (c *Coordinator) Accept(ctx context.Context, inviteeID, invitationID string) (*Group, error) {
	inv, err := c.store.Invitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.InviteeID != inviteeID {
		return nil, errors.Validationf("invitation is not addressed to you")
	}
	if !inv.ExpiresAt.After(c.clk.Now()) {
		return nil, errors.Validationf("invitation has expired")
	}

	invitee, err := c.store.MemberInfo(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if invitee.GroupID != nil {
		return nil, errors.Conflictf("%s is already in a group", invitee.Name)
	}
	g, err := c.store.Group(ctx, inv.GroupID)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusActive {
		return nil, errors.Validationf("that group has dissolved")
	}

	if err := c.store.SetMemberGroup(ctx, inviteeID, &g.ID); err != nil {
		return nil, err
	}
	if err := c.store.DeleteInvitation(ctx, inv.ID); err != nil {
		c.logger.Warn("Failed to delete accepted invitation", "invitation_id", inv.ID, "error", err)
	}

	c.logger.Info("Invitation accepted", "group_id", g.ID, "invitee_id", inviteeID)
	return g, nil
}

// Decline discards a live invitation.
func (c *Coordinator) Decline(ctx context.Context, inviteeID, invitationID string) error {
	inv, err := c.store.Invitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.InviteeID != inviteeID {
		return errors.Validationf("invitation is not addressed to you")
	}
	return c.store.DeleteInvitation(ctx, inv.ID)
}

// Leave removes a character from their group. A departing leader hands
// leadership to the next member; the last member out dissolves the group.
func (c *Coordinator) Leave(ctx context.Context, userID string) error {
	member, err := c.store.MemberInfo(ctx, userID)
	if err != nil {
		return err
	}
	if member.GroupID == nil {
		return errors.Validationf("%s is not in a group", member.Name)
	}
	groupID := *member.GroupID

	if err := c.store.SetMemberGroup(ctx, userID, nil); err != nil {
		return err
	}

	remaining, err := c.store.Members(ctx, groupID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		c.logger.Info("Group dissolved, last member left", "group_id", groupID)
		return c.store.Dissolve(ctx, groupID)
	}

	g, err := c.store.Group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.LeaderID == userID {
		if err := c.store.SetLeader(ctx, groupID, remaining[0].UserID); err != nil {
			return err
		}
		c.logger.Info("Leadership transferred", "group_id", groupID, "new_leader_id", remaining[0].UserID)
	}
	return nil
}

// StartTravelVote opens a travel vote. The group's stored location is
// synced to the leader's first; a leader with no location (in transit,
// offline) cannot open one.
func (c *Coordinator) StartTravelVote(ctx context.Context, leaderID string, corridorID int64, channelID string) (*VoteSession, error) {
	leader, err := c.store.MemberInfo(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if leader.GroupID == nil {
		return nil, errors.Validationf("%s is not in a group", leader.Name)
	}
	g, err := c.store.Group(ctx, *leader.GroupID)
	if err != nil {
		return nil, err
	}
	if g.LeaderID != leaderID {
		return nil, errors.Validationf("only the group leader can start a travel vote")
	}
	if leader.LocationID == nil {
		return nil, errors.Validationf("cannot start a travel vote while the leader has no location")
	}
	if g.CurrentLocationID == nil || *g.CurrentLocationID != *leader.LocationID {
		if err := c.store.SetGroupLocation(ctx, g.ID, *leader.LocationID); err != nil {
			return nil, err
		}
	}

	return c.openVote(ctx, g, VoteTravel, corridorID, channelID)
}

// StartJobVote opens a job-accept vote, auto-created when a member tries
// to take a job while grouped.
func (c *Coordinator) StartJobVote(ctx context.Context, memberID string, jobID int64, channelID string) (*VoteSession, error) {
	member, err := c.store.MemberInfo(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.GroupID == nil {
		return nil, errors.Validationf("%s is not in a group", member.Name)
	}
	g, err := c.store.Group(ctx, *member.GroupID)
	if err != nil {
		return nil, err
	}
	return c.openVote(ctx, g, VoteJobAccept, jobID, channelID)
}

func (c *Coordinator) openVote(ctx context.Context, g *Group, kind VoteKind, payloadID int64, channelID string) (*VoteSession, error) {
	now := c.clk.Now()
	session := VoteSession{
		ID:        uuid.NewString(),
		GroupID:   g.ID,
		Kind:      kind,
		PayloadID: payloadID,
		ChannelID: channelID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.VoteDuration),
	}
	if err := c.store.CreateVote(ctx, session); err != nil {
		return nil, err
	}

	members, err := c.store.Members(ctx, g.ID)
	if err == nil {
		c.postVoteOpened(ctx, &session, g, len(members))
	}

	sessionID := session.ID
	c.clk.After(c.cfg.VoteDuration, func() {
		tctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		c.tally(tctx, sessionID, true)
	})

	c.logger.Info("Vote opened",
		"vote_id", session.ID, "group_id", g.ID, "kind", kind, "payload_id", payloadID)
	return &session, nil
}

func (c *Coordinator) postVoteOpened(ctx context.Context, session *VoteSession, g *Group, memberCount int) {
	title := "Travel Vote"
	if session.Kind == VoteJobAccept {
		title = "Job Vote"
	}
	_, err := c.gw.Send(ctx, session.ChannelID, gateway.Embed{
		Title:       title,
		Description: fmt.Sprintf("**%s** is voting. A strict majority of %d members must agree; silence counts as no.", g.Name, memberCount),
		Footer:      fmt.Sprintf("Closes in %d minutes", int(c.cfg.VoteDuration.Minutes())),
		Color:       gateway.ColorNeutral,
	})
	if err != nil {
		c.logger.Warn("Failed to post vote embed", "vote_id", session.ID, "error", err)
	}
}

// CastVote records a member's choice, replacing any earlier one. When the
// last member votes the session tallies immediately.
func (c *Coordinator) CastVote(ctx context.Context, userID, sessionID string, choice Choice) error {
	session, err := c.store.VoteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	member, err := c.store.MemberInfo(ctx, userID)
	if err != nil {
		return err
	}
	if member.GroupID == nil || *member.GroupID != session.GroupID {
		return errors.Validationf("%s is not part of this vote", member.Name)
	}

	if err := c.store.CastVote(ctx, sessionID, userID, choice); err != nil {
		return err
	}

	members, err := c.store.Members(ctx, session.GroupID)
	if err != nil {
		return nil
	}
	votes, err := c.store.Votes(ctx, sessionID)
	if err != nil {
		return nil
	}
	cast := 0
	for _, m := range members {
		if _, ok := votes[m.UserID]; ok {
			cast++
		}
	}
	if cast >= len(members) {
		c.tally(ctx, sessionID, false)
	}
	return nil
}

// tally closes a vote session. The conditional row delete decides the
// single winner among early close, the creation timer and the reaper.
func (c *Coordinator) tally(ctx context.Context, sessionID string, timedOut bool) {
	logger := c.logger.With("operation", "tally", "vote_id", sessionID, "timed_out", timedOut)

	session, err := c.store.VoteSession(ctx, sessionID)
	if err != nil {
		if errors.GetType(err) != errors.ErrorTypeNotFound {
			logger.Warn("Failed to read vote session", "error", err)
		}
		return
	}

	members, err := c.store.Members(ctx, session.GroupID)
	if err != nil {
		logger.Warn("Failed to list members", "error", err)
		return
	}
	votes, err := c.store.Votes(ctx, sessionID)
	if err != nil {
		logger.Warn("Failed to read votes", "error", err)
		return
	}

	won, err := c.store.ClaimVote(ctx, sessionID)
	if err != nil {
		logger.Warn("Failed to claim vote session", "error", err)
		return
	}
	if !won {
		return
	}

	yes := 0
	for _, m := range members {
		if votes[m.UserID] == ChoiceYes {
			yes++
		}
	}
	passed := yes*2 > len(members)

	outcome := "failed"
	if passed {
		outcome = "passed"
	} else if timedOut {
		outcome = "timed_out"
	}
	metrics.VotesTallied.WithLabelValues(string(session.Kind), outcome).Inc()
	logger.Info("Vote tallied", "yes", yes, "members", len(members), "outcome", outcome)

	if !passed {
		c.postVoteOutcome(ctx, session, voteFailText(timedOut), gateway.ColorDeparture)
		return
	}

	switch session.Kind {
	case VoteTravel:
		c.runGroupTravel(ctx, session, members)
	case VoteJobAccept:
		c.runJobAssign(ctx, session, members)
	}
}

func voteFailText(timedOut bool) string {
	if timedOut {
		return "The vote timed out without a majority. Nothing happens."
	}
	return "The vote did not pass. Nothing happens."
}

func (c *Coordinator) runGroupTravel(ctx context.Context, session *VoteSession, members []Member) {
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}

	if _, err := c.travel.InitiateGroup(ctx, memberIDs, session.PayloadID); err != nil {
		c.logger.Warn("Group travel failed after passed vote",
			"vote_id", session.ID, "group_id", session.GroupID, "error", err)
		c.postVoteOutcome(ctx, session,
			fmt.Sprintf("The vote passed, but group travel failed: %s", errors.GetMessage(err)),
			gateway.ColorDanger)
		return
	}
	c.postVoteOutcome(ctx, session, "The vote passed. The group departs.", gateway.ColorArrival)
}

func (c *Coordinator) runJobAssign(ctx context.Context, session *VoteSession, members []Member) {
	if c.jobs == nil {
		c.logger.Warn("Job vote passed but no job board is attached", "vote_id", session.ID)
		return
	}
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}
	if err := c.jobs.AssignJobToGroup(ctx, session.PayloadID, session.GroupID, memberIDs); err != nil {
		c.logger.Warn("Failed to assign job after passed vote", "vote_id", session.ID, "error", err)
		c.postVoteOutcome(ctx, session,
			fmt.Sprintf("The vote passed, but the job could not be taken: %s", errors.GetMessage(err)),
			gateway.ColorDanger)
		return
	}
	c.postVoteOutcome(ctx, session, "The vote passed. The job belongs to the group.", gateway.ColorArrival)
}

func (c *Coordinator) postVoteOutcome(ctx context.Context, session *VoteSession, text string, color int) {
	_, err := c.gw.Send(ctx, session.ChannelID, gateway.Embed{
		Title:       "Vote Closed",
		Description: text,
		Color:       color,
	})
	if err != nil {
		c.logger.Warn("Failed to post vote outcome", "vote_id", session.ID, "error", err)
	}
}

// SweepExpired is the reaper backstop for invitations and votes whose
// timers were lost. Expired votes tally as timeouts.
func (c *Coordinator) SweepExpired(ctx context.Context) error {
	now := c.clk.Now()

	n, err := c.store.DeleteExpiredInvitations(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep invitations: %w", err)
	}
	if n > 0 {
		c.logger.Info("Expired invitations swept", "count", n)
	}

	expired, err := c.store.ExpiredVotes(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired votes: %w", err)
	}
	for _, session := range expired {
		c.tally(ctx, session.ID, true)
	}
	return nil
}
