// Package registry resolves human aliases to ledger addresses through the
// external directory service. The core only reads from it, to discover an
// invitee's inbound topic before fan-out.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/petalstack/florae/pkg/types"
)

// ErrUnknownAlias is returned when the directory has no entry for an alias.
var ErrUnknownAlias = errors.New("unknown alias")

// Entry is one directory record.
type Entry struct {
	Alias          string          `json:"alias"`
	AccountID      types.AccountID `json:"account_id"`
	InboundTopicID types.TopicID   `json:"inbound_topic_id"`
}

// Directory looks up aliases.
type Directory interface {
	Resolve(ctx context.Context, alias string) (*Entry, error)
}

// Client is a read-only HTTP directory client. Lookup failures surface
// immediately; the caller treats them as precondition errors, so there is
// no retry policy here.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a directory client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Resolve returns the directory entry for an alias.
func (c *Client) Resolve(ctx context.Context, alias string) (*Entry, error) {
	endpoint := fmt.Sprintf("%s/api/v1/aliases/%s", c.baseURL, url.PathEscape(alias))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &entry, nil
}

// Ensure Client implements Directory.
var _ Directory = (*Client)(nil)
