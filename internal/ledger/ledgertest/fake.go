// Package ledgertest provides an in-memory ledger for tests: deterministic
// topic ids, per-topic sequencing, and synchronous live delivery.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/types"
)

// Signer is a test signer whose authorization is the identity function.
type Signer struct {
	Account types.AccountID
}

func (s Signer) AccountID() types.AccountID { return s.Account }

func (s Signer) Authorize(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

// Fake implements Submitter, History and Subscriber in memory.
type Fake struct {
	mu        sync.Mutex
	nextTopic int
	clock     int
	topics    map[types.TopicID]*fakeTopic
	memos     map[types.TopicID]string

	// FailCreateAfter makes CreateTopic fail once this many topics exist.
	// Negative (the default via New) disables the fault.
	FailCreateAfter int
	// FailPublish makes every Publish fail when set.
	FailPublish bool
}

type fakeTopic struct {
	messages []ledger.Message
	subs     map[int]func(ledger.Message)
	nextSub  int
}

// New creates an empty fake ledger.
func New() *Fake {
	return &Fake{
		nextTopic:       1000,
		topics:          make(map[types.TopicID]*fakeTopic),
		memos:           make(map[types.TopicID]string),
		FailCreateAfter: -1,
	}
}

func (f *Fake) CreateTopic(_ context.Context, _ ledger.Signer, memo string) (types.TopicID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreateAfter >= 0 && len(f.topics) >= f.FailCreateAfter {
		return "", errors.New("fake ledger: topic creation failed")
	}

	id := types.TopicID(fmt.Sprintf("0.0.%d", f.nextTopic))
	f.nextTopic++
	f.topics[id] = &fakeTopic{subs: make(map[int]func(ledger.Message))}
	f.memos[id] = memo
	return id, nil
}

func (f *Fake) Publish(_ context.Context, _ ledger.Signer, topic types.TopicID, payload string, _ string) (uint64, error) {
	f.mu.Lock()
	if f.FailPublish {
		f.mu.Unlock()
		return 0, errors.New("fake ledger: publish failed")
	}

	t := f.topic(topic)
	f.clock++
	msg := ledger.Message{
		ConsensusTimestamp: fmt.Sprintf("1700000000.%09d", f.clock),
		SequenceNumber:     uint64(len(t.messages) + 1),
		Contents:           payload,
	}
	t.messages = append(t.messages, msg)
	subs := make([]func(ledger.Message), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return msg.SequenceNumber, nil
}

// Deliver pushes an arbitrary message to a topic, recording it and notifying
// subscribers. Useful for injecting malformed or replayed payloads.
func (f *Fake) Deliver(topic types.TopicID, msg ledger.Message) {
	f.mu.Lock()
	t := f.topic(topic)
	t.messages = append(t.messages, msg)
	subs := make([]func(ledger.Message), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (f *Fake) FetchHistory(_ context.Context, topic types.TopicID, opts ledger.HistoryOptions) ([]ledger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, topic)
	}

	limit := opts.Limit
	if limit <= 0 || limit > len(t.messages) {
		limit = len(t.messages)
	}

	out := make([]ledger.Message, limit)
	if opts.Order == ledger.OrderAsc {
		copy(out, t.messages[:limit])
	} else {
		// Most recent first.
		for i := 0; i < limit; i++ {
			out[i] = t.messages[len(t.messages)-1-i]
		}
	}
	return out, nil
}

type fakeSubscription struct {
	cancel func()
	once   sync.Once
}

func (s *fakeSubscription) Unsubscribe() { s.once.Do(s.cancel) }

func (f *Fake) SubscribeLive(_ context.Context, topic types.TopicID, onMessage func(ledger.Message), _ func(error)) (ledger.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.topic(topic)
	id := t.nextSub
	t.nextSub++
	t.subs[id] = onMessage

	return &fakeSubscription{cancel: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(t.subs, id)
	}}, nil
}

// Memo returns the creation memo recorded for a topic.
func (f *Fake) Memo(topic types.TopicID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memos[topic]
}

// Messages returns a copy of everything published to a topic, oldest first.
func (f *Fake) Messages(topic types.TopicID) []ledger.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[topic]
	if !ok {
		return nil
	}
	out := make([]ledger.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// TopicCount returns how many topics exist.
func (f *Fake) TopicCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

// topic returns the named topic, creating it if unknown. Callers hold f.mu.
func (f *Fake) topic(id types.TopicID) *fakeTopic {
	t, ok := f.topics[id]
	if !ok {
		t = &fakeTopic{subs: make(map[int]func(ledger.Message))}
		f.topics[id] = t
	}
	return t
}

var (
	_ ledger.Submitter = (*Fake)(nil)
	_ ledger.Channel   = (*Fake)(nil)
	_ ledger.Signer    = Signer{}
)
