// Package ledger defines the module's view of the external consensus topic
// service: signed submission of topics and messages, and the mirror read
// side (bounded history plus live subscription). The ledger supplies
// per-topic ordering; nothing here re-derives it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/petalstack/florae/pkg/types"
)

var (
	// ErrNotFound is returned for topics the mirror does not know.
	ErrNotFound = errors.New("topic not found")
	// ErrRejected is returned for submissions the ledger refused.
	ErrRejected = errors.New("submission rejected")
)

// Signer authorizes topic creation and message publication. The capability
// comes from the wallet connector; the protocol passes it through untouched
// and only the transport uses it.
type Signer interface {
	AccountID() types.AccountID
	Authorize(ctx context.Context, payload []byte) ([]byte, error)
}

// Message is one consensus-ordered topic message as served by the mirror.
// Contents is the base64-encoded payload.
type Message struct {
	ConsensusTimestamp string
	SequenceNumber     uint64
	Contents           string
}

// DedupKey returns the replay key for this message. The timestamp/sequence
// pair is unique per topic, so the key survives history/live overlap.
func (m Message) DedupKey() string {
	return fmt.Sprintf("%s:%d", m.ConsensusTimestamp, m.SequenceNumber)
}

// Order controls history fetch direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// HistoryOptions bounds a history fetch.
type HistoryOptions struct {
	Limit int
	Order Order
}

// Submitter writes to the ledger: creating topics and publishing messages.
// Both are signed, asynchronous round-trips.
type Submitter interface {
	CreateTopic(ctx context.Context, signer Signer, memo string) (types.TopicID, error)
	Publish(ctx context.Context, signer Signer, topic types.TopicID, payload string, memo string) (uint64, error)
}

// History fetches already-ordered messages from the mirror.
type History interface {
	FetchHistory(ctx context.Context, topic types.TopicID, opts HistoryOptions) ([]Message, error)
}

// Subscription is a live message feed. Unsubscribe must be called when the
// consumer goes away; it is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Subscriber opens live subscriptions on topics. onMessage is invoked for
// each new message; onError reports stream failures and may be nil.
type Subscriber interface {
	SubscribeLive(ctx context.Context, topic types.TopicID, onMessage func(Message), onError func(error)) (Subscription, error)
}

// Channel is the full read side of one topic service.
type Channel interface {
	History
	Subscriber
}
