package flora

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/envelope"
	"github.com/petalstack/florae/pkg/types"
)

// Reconciler builds live views over a flora's three topics. Each topic is
// handled independently; no ordering is assumed across topics.
type Reconciler struct {
	channel ledger.Channel
	window  int
	logger  *slog.Logger
}

// NewReconciler creates a reconciler over a topic channel.
func NewReconciler(channel ledger.Channel, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		channel: channel,
		window:  DefaultWindow,
		logger:  logger,
	}
}

// Feed is the reconciled view of one flora: a topic view per topic plus the
// live subscriptions feeding them. Close must be called when the consumer
// navigates away, or subscriptions leak and race a reopened feed.
type Feed struct {
	Topics        types.TopicSet
	Communication *TopicView
	Transaction   *TopicView
	State         *TopicView

	subs []ledger.Subscription
}

// Close tears down the feed's live subscriptions.
func (f *Feed) Close() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
	f.subs = nil
}

// Open fetches bounded history for each topic, then attaches live
// subscriptions. A failed history fetch is logged and does not prevent the
// live subscription from starting; a failed subscription fails the open.
func (r *Reconciler) Open(ctx context.Context, topics types.TopicSet, onError func(error)) (*Feed, error) {
	feed := &Feed{
		Topics:        topics,
		Communication: NewTopicView(r.window),
		Transaction:   NewTopicView(r.window),
		State:         NewTopicView(r.window),
	}

	bind := []struct {
		topic types.TopicID
		view  *TopicView
	}{
		{topics.Communication, feed.Communication},
		{topics.Transaction, feed.Transaction},
		{topics.State, feed.State},
	}

	g, gctx := errgroup.WithContext(ctx)
	subs := make([]ledger.Subscription, len(bind))
	for i, b := range bind {
		g.Go(func() error {
			history, err := r.channel.FetchHistory(gctx, b.topic, ledger.HistoryOptions{
				Limit: r.window,
				Order: ledger.OrderDesc,
			})
			if err != nil {
				r.logger.Warn("history fetch failed", "topic", b.topic, "error", err)
			} else {
				b.view.IngestHistory(history)
			}

			sub, err := r.channel.SubscribeLive(ctx, b.topic, func(msg ledger.Message) {
				b.view.Ingest(msg)
			}, onError)
			if err != nil {
				return err
			}
			subs[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sub := range subs {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
		return nil, err
	}

	feed.subs = subs
	return feed, nil
}

// ChatMessage is one folded chat timeline entry.
type ChatMessage struct {
	Key     string          `json:"key"`
	From    types.AccountID `json:"from"`
	SentAt  time.Time       `json:"sentAt"`
	Content string          `json:"content"`
}

// Chats returns the communication topic's chat timeline, oldest first.
func (f *Feed) Chats() []ChatMessage {
	var out []ChatMessage
	for _, e := range f.Communication.Entries() {
		if e.Envelope.Type != envelope.KindChat {
			continue
		}
		out = append(out, ChatMessage{
			Key:     e.Key,
			From:    e.Envelope.From,
			SentAt:  e.Envelope.SentAt,
			Content: e.Envelope.Chat.Content,
		})
	}
	return out
}

// ProposalEntry is one folded proposal.
type ProposalEntry struct {
	Key        string          `json:"key"`
	From       types.AccountID `json:"from"`
	SentAt     time.Time       `json:"sentAt"`
	ProposalID string          `json:"proposalId"`
	Text       string          `json:"text"`
}

// Proposals returns the transaction topic's proposals, oldest first.
// Proposals and votes share the topic and are told apart by envelope type.
func (f *Feed) Proposals() []ProposalEntry {
	var out []ProposalEntry
	for _, e := range f.Transaction.Entries() {
		if e.Envelope.Type != envelope.KindProposal {
			continue
		}
		out = append(out, ProposalEntry{
			Key:        e.Key,
			From:       e.Envelope.From,
			SentAt:     e.Envelope.SentAt,
			ProposalID: e.Envelope.Proposal.ProposalID,
			Text:       e.Envelope.Proposal.Text,
		})
	}
	return out
}

// VoteEntry is one folded vote. Votes reference proposals by id as an
// opaque string; no tally is computed.
type VoteEntry struct {
	Key        string          `json:"key"`
	From       types.AccountID `json:"from"`
	SentAt     time.Time       `json:"sentAt"`
	ProposalID string          `json:"proposalId"`
	Vote       string          `json:"vote"`
}

// Votes returns the transaction topic's votes, oldest first.
func (f *Feed) Votes() []VoteEntry {
	var out []VoteEntry
	for _, e := range f.Transaction.Entries() {
		if e.Envelope.Type != envelope.KindVote {
			continue
		}
		out = append(out, VoteEntry{
			Key:        e.Key,
			From:       e.Envelope.From,
			SentAt:     e.Envelope.SentAt,
			ProposalID: e.Envelope.Vote.ProposalID,
			Vote:       e.Envelope.Vote.Vote,
		})
	}
	return out
}

// StateUpdate is one folded state-topic entry. StateHash is opaque and may
// be nil.
type StateUpdate struct {
	Key       string          `json:"key"`
	From      types.AccountID `json:"from"`
	SentAt    time.Time       `json:"sentAt"`
	Summary   string          `json:"summary"`
	StateHash *string         `json:"stateHash"`
}

// States returns the state topic's updates, oldest first.
func (f *Feed) States() []StateUpdate {
	var out []StateUpdate
	for _, e := range f.State.Entries() {
		if e.Envelope.Type != envelope.KindState {
			continue
		}
		out = append(out, StateUpdate{
			Key:       e.Key,
			From:      e.Envelope.From,
			SentAt:    e.Envelope.SentAt,
			Summary:   e.Envelope.State.Summary,
			StateHash: e.Envelope.State.StateHash,
		})
	}
	return out
}
