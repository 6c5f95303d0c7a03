package ledger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/petalstack/florae/pkg/types"
)

// WalletSigner authorizes transactions through the external wallet
// connector. Key material never enters this process; the connector returns
// the signed blob for the account it holds keys for.
type WalletSigner struct {
	accountID  types.AccountID
	baseURL    string
	httpClient *http.Client
}

// NewWalletSigner creates a signer delegating to the wallet connector.
func NewWalletSigner(baseURL string, accountID types.AccountID) *WalletSigner {
	return &WalletSigner{
		accountID: accountID,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *WalletSigner) AccountID() types.AccountID { return s.accountID }

// Authorize sends the transaction body to the connector and returns the
// authorized form.
func (s *WalletSigner) Authorize(ctx context.Context, payload []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/authorize", s.baseURL, s.accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// NewChannel combines a history fetcher and a subscriber into one Channel.
func NewChannel(h History, s Subscriber) Channel {
	return struct {
		History
		Subscriber
	}{h, s}
}

// Ensure WalletSigner implements Signer.
var _ Signer = (*WalletSigner)(nil)
