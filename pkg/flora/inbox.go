package flora

import (
	"context"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/envelope"
	"github.com/petalstack/florae/pkg/types"
)

// WatchInbox follows the identity's inbound topic and ingests invitations:
// recent history first, then live messages. Payloads that are not valid
// flora_create_request envelopes are skipped. The returned subscription
// must be unsubscribed on identity disconnect.
func (s *FloraService) WatchInbox(ctx context.Context, id Identity, inboundTopic types.TopicID, onError func(error)) (ledger.Subscription, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}

	history, err := s.channel.FetchHistory(ctx, inboundTopic, ledger.HistoryOptions{
		Limit: DefaultWindow,
		Order: ledger.OrderDesc,
	})
	if err != nil {
		s.logger.Warn("inbox history fetch failed", "topic", inboundTopic, "error", err)
	}
	// Oldest first, so a re-sent invite overwrites an earlier one.
	for i := len(history) - 1; i >= 0; i-- {
		s.ingestInboxMessage(ctx, id, history[i])
	}

	return s.channel.SubscribeLive(ctx, inboundTopic, func(msg ledger.Message) {
		s.ingestInboxMessage(ctx, id, msg)
	}, onError)
}

func (s *FloraService) ingestInboxMessage(ctx context.Context, id Identity, msg ledger.Message) {
	env, err := envelope.Decode(msg.Contents)
	if err != nil {
		return
	}
	if env.Type != envelope.KindCreateRequest {
		return
	}
	if _, err := s.IngestInvite(ctx, id, env); err != nil {
		s.logger.Warn("invite ingestion failed", "from", env.From, "error", err)
	}
}
