package ledger_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalstack/florae/internal/ledger"
)

const messagesPage = `{
	"messages": [
		{"consensus_timestamp": "1700000000.000000002", "message": "bXNnLTI=", "sequence_number": 2, "topic_id": "0.0.1000"},
		{"consensus_timestamp": "1700000000.000000001", "message": "bXNnLTE=", "sequence_number": 1, "topic_id": "0.0.1000"}
	]
}`

func TestMirrorClient_FetchHistory(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, messagesPage)
	}))
	defer server.Close()

	client := ledger.NewMirrorClient(server.URL)
	messages, err := client.FetchHistory(context.Background(), "0.0.1000", ledger.HistoryOptions{Limit: 200})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/topics/0.0.1000/messages", gotPath)
	assert.Equal(t, "limit=200&order=desc", gotQuery)
	require.Len(t, messages, 2)
	assert.Equal(t, uint64(2), messages[0].SequenceNumber)
	assert.Equal(t, "1700000000.000000002:2", messages[0].DedupKey())
}

func TestMirrorClient_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := ledger.NewMirrorClient(server.URL)
	_, err := client.FetchHistory(context.Background(), "0.0.9999", ledger.HistoryOptions{})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestMirrorClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, messagesPage)
	}))
	defer server.Close()

	client := ledger.NewMirrorClient(server.URL)
	messages, err := client.FetchHistory(context.Background(), "0.0.1000", ledger.HistoryOptions{})
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.EqualValues(t, 3, calls.Load())
}
