package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petalstack/florae/pkg/types"
)

// StreamSubscriber opens live topic subscriptions over the mirror's
// websocket endpoint. There is no built-in reconnect beyond an optional
// retry-after-close delay; zero disables it.
type StreamSubscriber struct {
	baseURL         string
	dialer          *websocket.Dialer
	retryAfterClose time.Duration
	logger          *slog.Logger
}

// NewStreamSubscriber creates a websocket subscriber against the mirror.
// baseURL uses ws:// or wss:// scheme.
func NewStreamSubscriber(baseURL string, retryAfterClose time.Duration, logger *slog.Logger) *StreamSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSubscriber{
		baseURL:         baseURL,
		dialer:          &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		retryAfterClose: retryAfterClose,
		logger:          logger,
	}
}

type streamSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *streamSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// SubscribeLive dials the topic stream and pumps messages to onMessage until
// Unsubscribe is called. Stream failures go to onError; if a retry delay is
// configured the pump redials after it, otherwise it stops.
func (s *StreamSubscriber) SubscribeLive(ctx context.Context, topic types.TopicID, onMessage func(Message), onError func(error)) (Subscription, error) {
	endpoint, err := url.JoinPath(s.baseURL, "api", "v1", "topics", string(topic), "stream")
	if err != nil {
		return nil, fmt.Errorf("build stream url: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	conn, _, err := s.dialer.DialContext(streamCtx, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial topic stream: %w", err)
	}

	sub := &streamSubscription{cancel: cancel}
	go s.pump(streamCtx, conn, endpoint, topic, onMessage, onError)
	return sub, nil
}

func (s *StreamSubscriber) pump(ctx context.Context, conn *websocket.Conn, endpoint string, topic types.TopicID, onMessage func(Message), onError func(error)) {
	for {
		err := s.readLoop(ctx, conn, onMessage)
		if ctx.Err() != nil {
			return
		}
		if onError != nil {
			onError(fmt.Errorf("topic %s stream: %w", topic, err))
		}
		if s.retryAfterClose <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryAfterClose):
		}
		next, _, err := s.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("redial topic %s stream: %w", topic, err))
			}
			return
		}
		s.logger.Info("topic stream reconnected", "topic", topic)
		conn = next
	}
}

// readLoop reads until the connection fails or the context is cancelled.
// The connection is always closed on return.
func (s *StreamSubscriber) readLoop(ctx context.Context, conn *websocket.Conn, onMessage func(Message)) error {
	defer conn.Close()

	// Unblock ReadJSON when the subscription is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var wire mirrorMessage
		if err := conn.ReadJSON(&wire); err != nil {
			return err
		}
		onMessage(Message{
			ConsensusTimestamp: wire.ConsensusTimestamp,
			SequenceNumber:     wire.SequenceNumber,
			Contents:           wire.Message,
		})
	}
}

// Ensure StreamSubscriber implements Subscriber.
var _ Subscriber = (*StreamSubscriber)(nil)
