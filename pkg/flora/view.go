package flora

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/envelope"
)

// DefaultWindow bounds how many entries one topic view retains.
const DefaultWindow = 200

// Entry is one decoded message folded into a topic view.
type Entry struct {
	Key                string
	ConsensusTimestamp string
	SequenceNumber     uint64
	Envelope           *envelope.Envelope
}

// TopicView folds one topic's messages into a bounded, deduplicated,
// chronologically ordered list. History and live subscriptions overlap at
// window boundaries; the dedup key (consensus timestamp + sequence number)
// rejects redelivery. Malformed payloads are skipped, never fatal.
type TopicView struct {
	mu      sync.Mutex
	window  int
	seen    *lru.Cache[string, struct{}]
	entries []Entry
	skipped int
}

// NewTopicView creates a view retaining at most window entries.
func NewTopicView(window int) *TopicView {
	if window <= 0 {
		window = DefaultWindow
	}
	// The seen cache outlives the window so a replay of a recently evicted
	// entry at the history/live boundary is still rejected.
	seen, err := lru.New[string, struct{}](window * 4)
	if err != nil {
		panic(err)
	}
	return &TopicView{
		window: window,
		seen:   seen,
	}
}

// IngestHistory folds a historical fetch into the view. Messages arrive
// most-recent-first from the mirror and are normalized to chronological
// order before folding.
func (v *TopicView) IngestHistory(messages []ledger.Message) {
	ordered := make([]ledger.Message, len(messages))
	copy(ordered, messages)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ConsensusTimestamp != ordered[j].ConsensusTimestamp {
			return ordered[i].ConsensusTimestamp < ordered[j].ConsensusTimestamp
		}
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})
	for _, msg := range ordered {
		v.Ingest(msg)
	}
}

// Ingest folds one message into the view. It returns false when the message
// was dropped (duplicate or undecodable).
func (v *TopicView) Ingest(msg ledger.Message) bool {
	env, err := envelope.Decode(msg.Contents)
	if err != nil {
		v.mu.Lock()
		v.skipped++
		v.mu.Unlock()
		return false
	}

	key := msg.DedupKey()

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, dup := v.seen.Get(key); dup {
		return false
	}
	v.seen.Add(key, struct{}{})

	v.entries = append(v.entries, Entry{
		Key:                key,
		ConsensusTimestamp: msg.ConsensusTimestamp,
		SequenceNumber:     msg.SequenceNumber,
		Envelope:           env,
	})
	if over := len(v.entries) - v.window; over > 0 {
		// Oldest entries evicted first.
		v.entries = append(v.entries[:0:0], v.entries[over:]...)
	}
	return true
}

// Entries returns a copy of the view, oldest first.
func (v *TopicView) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Len returns the number of retained entries.
func (v *TopicView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Skipped returns how many messages failed to decode and were dropped.
func (v *TopicView) Skipped() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.skipped
}
