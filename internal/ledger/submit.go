package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/petalstack/florae/pkg/types"
)

// RelaySubmitter submits signed topic transactions through the ledger
// gateway. Each call builds the transaction body, has the wallet signer
// authorize it, and posts the authorized blob. Submission is not retried;
// failures surface to the caller.
type RelaySubmitter struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelaySubmitter creates a submitter against a ledger gateway.
func NewRelaySubmitter(baseURL string) *RelaySubmitter {
	return &RelaySubmitter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createTopicBody struct {
	Operator types.AccountID `json:"operator"`
	Memo     string          `json:"memo"`
}

type createTopicResponse struct {
	TopicID types.TopicID `json:"topic_id"`
}

type publishBody struct {
	Operator types.AccountID `json:"operator"`
	TopicID  types.TopicID   `json:"topic_id"`
	Message  string          `json:"message"`
	Memo     string          `json:"memo,omitempty"`
}

type publishResponse struct {
	SequenceNumber uint64 `json:"sequence_number"`
}

// CreateTopic creates a new consensus topic tagged with the given memo and
// returns its assigned id.
func (s *RelaySubmitter) CreateTopic(ctx context.Context, signer Signer, memo string) (types.TopicID, error) {
	body := createTopicBody{Operator: signer.AccountID(), Memo: memo}

	var resp createTopicResponse
	if err := s.submit(ctx, signer, "/api/v1/topics", body, &resp); err != nil {
		return "", fmt.Errorf("create topic %q: %w", memo, err)
	}
	if resp.TopicID == "" {
		return "", fmt.Errorf("create topic %q: %w: gateway returned no topic id", memo, ErrRejected)
	}
	return resp.TopicID, nil
}

// Publish appends a message to a topic and returns its sequence number.
func (s *RelaySubmitter) Publish(ctx context.Context, signer Signer, topic types.TopicID, payload string, memo string) (uint64, error) {
	body := publishBody{Operator: signer.AccountID(), TopicID: topic, Message: payload, Memo: memo}

	var resp publishResponse
	if err := s.submit(ctx, signer, fmt.Sprintf("/api/v1/topics/%s/messages", topic), body, &resp); err != nil {
		return 0, fmt.Errorf("publish to %s: %w", topic, err)
	}
	return resp.SequenceNumber, nil
}

func (s *RelaySubmitter) submit(ctx context.Context, signer Signer, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	authorized, err := signer.Authorize(ctx, raw)
	if err != nil {
		return fmt.Errorf("authorize transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(authorized))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: gateway returned status %d", ErrRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ensure RelaySubmitter implements Submitter.
var _ Submitter = (*RelaySubmitter)(nil)
