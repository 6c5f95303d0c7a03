package types

import (
	"encoding/json"
	"time"
)

// Invite is a pending invitation to join a flora, as received by the local
// identity. At most one live invite exists per (flora, recipient) pair.
type Invite struct {
	ID         string          `json:"id"`
	Flora      Flora           `json:"flora"`
	Invitation json.RawMessage `json:"invitation"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// InviteID derives the deterministic invite id for a flora's communication
// topic and a recipient account. Re-receipt of the same invitation maps to
// the same id, making ingestion an upsert.
func InviteID(communicationTopic TopicID, recipient AccountID) string {
	return string(communicationTopic) + ":" + string(recipient)
}

// Serialize converts an Invite to JSON bytes for storage.
func (i *Invite) Serialize() ([]byte, error) {
	return json.Marshal(i)
}

// Deserialize populates an Invite from JSON bytes.
func (i *Invite) Deserialize(data []byte) error {
	return json.Unmarshal(data, i)
}

// Preference holds per-flora local settings. Created lazily on first toggle.
type Preference struct {
	FloraID TopicID `json:"floraId"`
	Muted   bool    `json:"muted"`
}
