// Package group manages crews: membership through leader-sent invitations,
// and the vote sessions that gate group travel and shared job acceptance.
package group

import (
	"context"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusDissolved Status = "dissolved"
)

// Group is a crew of characters moving and working together. A character
// belongs to at most one active group; membership lives on the character row.
type Group struct {
	ID                int64
	Name              string
	LeaderID          string
	CurrentLocationID *int64
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Member is the slim membership view the coordinator works with.
type Member struct {
	UserID     string
	Name       string
	GroupID    *int64
	LocationID *int64
}

// Invitation is a leader's offer to join, valid until ExpiresAt. At most
// one live invitation exists per (group, invitee) pair.
type Invitation struct {
	ID        string
	GroupID   int64
	InviterID string
	InviteeID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type VoteKind string

const (
	VoteTravel    VoteKind = "travel"
	VoteJobAccept VoteKind = "job_accept"
)

type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// VoteSession is one open question put to a group. PayloadID is the
// corridor (travel) or job (job_accept) being voted on. The row is deleted
// by whichever path tallies it first; deletion is the tally lock.
type VoteSession struct {
	ID        string
	GroupID   int64
	Kind      VoteKind
	PayloadID int64
	ChannelID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the coordinator's persistence surface.
type Store interface {
	CreateGroup(ctx context.Context, name, leaderID string, locationID *int64) (*Group, error)
	Group(ctx context.Context, groupID int64) (*Group, error)
	Members(ctx context.Context, groupID int64) ([]Member, error)
	// MemberInfo reports a character's name, group and location.
	MemberInfo(ctx context.Context, userID string) (*Member, error)
	SetMemberGroup(ctx context.Context, userID string, groupID *int64) error
	SetLeader(ctx context.Context, groupID int64, leaderID string) error
	SetGroupLocation(ctx context.Context, groupID, locationID int64) error
	Dissolve(ctx context.Context, groupID int64) error

	// CreateInvitation fails with a conflict when a live invitation for
	// the same (group, invitee) pair already exists.
	CreateInvitation(ctx context.Context, inv Invitation) error
	Invitation(ctx context.Context, id string) (*Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	DeleteExpiredInvitations(ctx context.Context, now time.Time) (int, error)

	// CreateVote fails with a conflict when the group already has an open
	// vote session.
	CreateVote(ctx context.Context, v VoteSession) error
	VoteSession(ctx context.Context, id string) (*VoteSession, error)
	CastVote(ctx context.Context, sessionID, userID string, choice Choice) error
	Votes(ctx context.Context, sessionID string) (map[string]Choice, error)
	// ClaimVote deletes the session row iff it still exists, returning
	// whether the caller won the tally.
	ClaimVote(ctx context.Context, sessionID string) (bool, error)
	ExpiredVotes(ctx context.Context, now time.Time) ([]VoteSession, error)
}
