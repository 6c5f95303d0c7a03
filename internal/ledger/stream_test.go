package ledger_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalstack/florae/internal/ledger"
)

func TestStreamSubscriber_DeliversMessages(t *testing.T) {
	var gotPath atomic.Value
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []map[string]any{
			{"consensus_timestamp": "1700000000.000000001", "message": "bXNnLTE=", "sequence_number": 1, "topic_id": "0.0.1000"},
			{"consensus_timestamp": "1700000000.000000002", "message": "bXNnLTI=", "sequence_number": 2, "topic_id": "0.0.1000"},
		}
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	subscriber := ledger.NewStreamSubscriber("ws"+strings.TrimPrefix(server.URL, "http"), 0, nil)

	received := make(chan ledger.Message, 2)
	sub, err := subscriber.SubscribeLive(context.Background(), "0.0.1000", func(msg ledger.Message) {
		received <- msg
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, "/api/v1/topics/0.0.1000/stream", gotPath.Load())

	first := <-received
	assert.Equal(t, uint64(1), first.SequenceNumber)
	second := <-received
	assert.Equal(t, "bXNnLTI=", second.Contents)
}

func TestStreamSubscriber_UnsubscribeStopsPump(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	subscriber := ledger.NewStreamSubscriber("ws"+strings.TrimPrefix(server.URL, "http"), 0, nil)

	errs := make(chan error, 1)
	sub, err := subscriber.SubscribeLive(context.Background(), "0.0.1000", func(ledger.Message) {}, func(err error) {
		errs <- err
	})
	require.NoError(t, err)

	sub.Unsubscribe()

	// Cancellation is not a stream failure; no error is surfaced.
	select {
	case err := <-errs:
		t.Fatalf("unexpected stream error after unsubscribe: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamSubscriber_DialFailure(t *testing.T) {
	subscriber := ledger.NewStreamSubscriber("ws://127.0.0.1:1", 0, nil)

	_, err := subscriber.SubscribeLive(context.Background(), "0.0.1000", func(ledger.Message) {}, nil)
	assert.Error(t, err)
}
