package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/petalstack/florae/pkg/types"
)

// MirrorClient reads topic history from the mirror's REST API. Transient
// failures (network errors, 5xx) are retried with exponential backoff up to
// a bounded attempt count; 4xx responses surface immediately.
type MirrorClient struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

// NewMirrorClient creates a read-only mirror REST client.
func NewMirrorClient(baseURL string) *MirrorClient {
	return &MirrorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxTries: 4,
	}
}

// mirrorMessage is the mirror REST wire form of one topic message.
type mirrorMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            string `json:"message"`
	SequenceNumber     uint64 `json:"sequence_number"`
	TopicID            string `json:"topic_id"`
}

type mirrorMessagesPage struct {
	Messages []mirrorMessage `json:"messages"`
}

// FetchHistory retrieves up to opts.Limit messages for a topic in the
// requested order.
func (c *MirrorClient) FetchHistory(ctx context.Context, topic types.TopicID, opts HistoryOptions) ([]Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	order := opts.Order
	if order == "" {
		order = OrderDesc
	}

	url := fmt.Sprintf("%s/api/v1/topics/%s/messages?limit=%d&order=%s", c.baseURL, topic, limit, order)

	page, err := backoff.Retry(ctx, func() (*mirrorMessagesPage, error) {
		return c.fetchPage(ctx, url, topic)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		messages = append(messages, Message{
			ConsensusTimestamp: m.ConsensusTimestamp,
			SequenceNumber:     m.SequenceNumber,
			Contents:           m.Message,
		})
	}
	return messages, nil
}

func (c *MirrorClient) fetchPage(ctx context.Context, url string, topic types.TopicID) (*mirrorMessagesPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, topic))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("mirror returned status %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("mirror returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var page mirrorMessagesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &page, nil
}

// Ensure MirrorClient implements History.
var _ History = (*MirrorClient)(nil)
