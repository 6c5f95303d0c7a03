package ledger_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalstack/florae/internal/ledger"
)

func TestWalletSigner_Authorize(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("signed:"), body...))
	}))
	defer server.Close()

	signer := ledger.NewWalletSigner(server.URL, "0.0.1")
	assert.EqualValues(t, "0.0.1", signer.AccountID())

	authorized, err := signer.Authorize(context.Background(), []byte(`{"memo":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/accounts/0.0.1/authorize", gotPath)
	assert.Equal(t, `signed:{"memo":"x"}`, string(authorized))
}

func TestWalletSigner_Rejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "account locked", http.StatusForbidden)
	}))
	defer server.Close()

	signer := ledger.NewWalletSigner(server.URL, "0.0.1")
	_, err := signer.Authorize(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}
