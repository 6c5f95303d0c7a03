// Package envelope defines the typed JSON payloads carried inside topic
// messages and the codec between them and the ledger's binary payload
// convention (UTF-8 JSON, then base64).
package envelope

import (
	"time"

	"github.com/petalstack/florae/pkg/types"
)

// Kind discriminates the envelope payload shape.
type Kind string

const (
	KindCreateRequest Kind = "flora_create_request"
	KindJoinAccept    Kind = "flora_join_accept"
	KindCreated       Kind = "flora_created"
	KindChat          Kind = "flora_chat"
	KindProposal      Kind = "flora_proposal"
	KindVote          Kind = "flora_vote"
	KindState         Kind = "flora_state"
)

// Envelope is one decoded protocol message. Type, From and SentAt are common
// to every kind; exactly one body field is non-nil, matching Type.
type Envelope struct {
	Type   Kind            `json:"type"`
	From   types.AccountID `json:"from"`
	SentAt time.Time       `json:"sentAt"`

	CreateRequest *CreateRequest `json:"-"`
	JoinAccept    *JoinAccept    `json:"-"`
	Created       *Created       `json:"-"`
	Chat          *Chat          `json:"-"`
	Proposal      *Proposal      `json:"-"`
	Vote          *Vote          `json:"-"`
	State         *State         `json:"-"`
}

// Party identifies an account as named inside an invitation.
type Party struct {
	AccountID types.AccountID `json:"accountId" validate:"required"`
	Alias     string          `json:"alias,omitempty"`
}

// FloraDescriptor is the group snapshot declared by an inviter.
type FloraDescriptor struct {
	Name                 string        `json:"name" validate:"required"`
	CommunicationTopicID types.TopicID `json:"communicationTopicId" validate:"required"`
	TransactionTopicID   types.TopicID `json:"transactionTopicId" validate:"required"`
	StateTopicID         types.TopicID `json:"stateTopicId" validate:"required"`
	Initiator            Party         `json:"initiator" validate:"required"`
	Members              []Party       `json:"members" validate:"required,min=1,dive"`
}

// CreateRequest invites the recipient into a newly provisioned flora.
type CreateRequest struct {
	To      types.AccountID `json:"to" validate:"required"`
	Content string          `json:"content"`
	Flora   FloraDescriptor `json:"flora" validate:"required"`
}

// JoinAccept announces the sender accepted an invitation.
type JoinAccept struct {
	To      types.AccountID `json:"to"`
	Content string          `json:"content"`
	FloraID types.TopicID   `json:"floraId" validate:"required"`
}

// Created announces the flora is established from the sender's point of view.
type Created struct {
	To      types.AccountID `json:"to"`
	Content string          `json:"content"`
	FloraID types.TopicID   `json:"floraId" validate:"required"`
}

// Chat is a free-form message on the communication topic.
type Chat struct {
	Content string `json:"content" validate:"required"`
}

// Proposal opens a question on the transaction topic.
type Proposal struct {
	ProposalID string `json:"proposalId" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// Vote answers a proposal. Votes reference proposals by id only; no tally
// is computed here.
type Vote struct {
	ProposalID string `json:"proposalId" validate:"required"`
	Vote       string `json:"vote" validate:"required,oneof=yes no"`
}

// State is a state-topic update. StateHash is carried opaquely for external
// verification and may be null.
type State struct {
	Summary   string  `json:"summary" validate:"required"`
	StateHash *string `json:"stateHash"`
}
