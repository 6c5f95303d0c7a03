// pkg/types/flora.go
package types

import (
	"encoding/json"
	"time"
)

// AccountID identifies an account on the ledger (shard.realm.num form).
type AccountID string

// TopicID identifies a consensus topic on the ledger.
type TopicID string

// MemberStatus represents the membership state of one account as seen locally.
type MemberStatus string

const (
	// MemberSelf marks the local identity's own entry.
	MemberSelf MemberStatus = "self"
	// MemberInvited marks an account that was invited but has not been observed accepting.
	MemberInvited MemberStatus = "invited"
	// MemberAccepted marks an account whose accept has been observed or performed locally.
	MemberAccepted MemberStatus = "accepted"
)

// FloraStatus represents the local view of a flora's lifecycle.
type FloraStatus string

const (
	// FloraPending indicates the flora was created or received but not all parties confirmed.
	FloraPending FloraStatus = "pending"
	// FloraActive indicates at least one accept has been processed locally.
	FloraActive FloraStatus = "active"
)

// TopicSet is the immutable triple of topics backing one flora.
type TopicSet struct {
	Communication TopicID `json:"communication"`
	Transaction   TopicID `json:"transaction"`
	State         TopicID `json:"state"`
}

// Member is one account's entry in a flora's member set.
type Member struct {
	AccountID      AccountID    `json:"accountId"`
	Alias          string       `json:"alias,omitempty"`
	InboundTopicID TopicID      `json:"inboundTopicId,omitempty"`
	Status         MemberStatus `json:"status"`
}

// Flora is a coordination group backed by three consensus topics.
// Its ID is the communication topic id and is stable from creation.
type Flora struct {
	ID                 TopicID     `json:"id"`
	Name               string      `json:"name"`
	Topics             TopicSet    `json:"topics"`
	Members            []Member    `json:"members"`
	Status             FloraStatus `json:"status"`
	CreatedAt          time.Time   `json:"createdAt"`
	InitiatorAccountID AccountID   `json:"initiatorAccountId"`
}

// Member returns the member entry for the given account, if present.
func (f *Flora) Member(id AccountID) (*Member, bool) {
	for i := range f.Members {
		if f.Members[i].AccountID == id {
			return &f.Members[i], true
		}
	}
	return nil, false
}

// SetMemberStatus updates the status of the given account's entry in place.
// Unknown accounts are ignored.
func (f *Flora) SetMemberStatus(id AccountID, status MemberStatus) {
	if m, ok := f.Member(id); ok {
		m.Status = status
	}
}

// Serialize converts a Flora to JSON bytes for storage.
func (f *Flora) Serialize() ([]byte, error) {
	return json.Marshal(f)
}

// Deserialize populates a Flora from JSON bytes.
func (f *Flora) Deserialize(data []byte) error {
	return json.Unmarshal(data, f)
}
