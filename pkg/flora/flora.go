// Package flora implements the group coordination protocol: provisioning
// the three topics backing a group, the invite/accept handshake between
// independent participants, and reconciling each participant's local view
// from the topics' message streams.
package flora

import (
	"context"
	"errors"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/envelope"
	"github.com/petalstack/florae/pkg/types"
)

// Precondition errors, surfaced before any network call is attempted.
var (
	ErrNoSigner       = errors.New("no signer for active identity")
	ErrNoAccount      = errors.New("no account id for active identity")
	ErrEmptyName      = errors.New("flora name must not be empty")
	ErrNoInvitees     = errors.New("at least one invitee is required")
	ErrInviteNotFound = errors.New("invite not found")
	ErrFloraNotFound  = errors.New("flora not found")
	ErrNoInboundTopic = errors.New("invitee has no inbound topic")
)

// Identity is the explicit session context for protocol operations. It is
// created on wallet connect and torn down on disconnect; there is no
// module-level session.
type Identity struct {
	AccountID types.AccountID
	Alias     string
	Signer    ledger.Signer
}

func (id Identity) validate() error {
	if id.AccountID == "" {
		return ErrNoAccount
	}
	if id.Signer == nil {
		return ErrNoSigner
	}
	return nil
}

// Invitee names one party to invite. AccountID and InboundTopicID may be
// left empty, in which case the alias is resolved through the directory.
type Invitee struct {
	Alias          string
	AccountID      types.AccountID
	InboundTopicID types.TopicID
}

// VoteChoice constrains vote values.
type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

// Service defines the protocol operations available to a local identity.
type Service interface {
	CreateFlora(ctx context.Context, id Identity, name string, invitees []Invitee) (*types.Flora, error)
	IngestInvite(ctx context.Context, id Identity, env *envelope.Envelope) (*types.Invite, error)
	Accept(ctx context.Context, id Identity, floraID types.TopicID) (*types.Flora, error)
	Decline(ctx context.Context, id Identity, floraID types.TopicID) error
	WatchInbox(ctx context.Context, id Identity, inboundTopic types.TopicID, onError func(error)) (ledger.Subscription, error)

	Floras(ctx context.Context, id Identity) ([]types.Flora, error)
	Flora(ctx context.Context, id Identity, floraID types.TopicID) (*types.Flora, error)
	Invites(ctx context.Context, id Identity) ([]types.Invite, error)

	SendChat(ctx context.Context, id Identity, floraID types.TopicID, content string) error
	SubmitProposal(ctx context.Context, id Identity, floraID types.TopicID, text string) (string, error)
	CastVote(ctx context.Context, id Identity, floraID types.TopicID, proposalID string, choice VoteChoice) error
	PublishState(ctx context.Context, id Identity, floraID types.TopicID, summary string) error

	SetMuted(ctx context.Context, id Identity, floraID types.TopicID, muted bool) error
	Preference(ctx context.Context, id Identity, floraID types.TopicID) (*types.Preference, error)

	OpenFeed(ctx context.Context, id Identity, floraID types.TopicID, onError func(error)) (*Feed, error)
}
