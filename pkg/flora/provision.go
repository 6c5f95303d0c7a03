package flora

import (
	"context"
	"fmt"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/types"
)

// Topic memo patterns. Memos make topics self-describing on the ledger
// without an external index.
const (
	memoCommFormat  = "Flora:%s-Comm"
	memoTxFormat    = "Flora:%s-Tx"
	memoStateFormat = "Flora:%s-State"
)

// CreateGroupTopics provisions the three topics backing one flora, in fixed
// order: communication, transaction, state. If any creation fails the whole
// provisioning fails; topics already created cannot be deleted cheaply and
// are left orphaned on the ledger, reported in the error.
func CreateGroupTopics(ctx context.Context, submitter ledger.Submitter, signer ledger.Signer, name string) (types.TopicSet, error) {
	var set types.TopicSet

	comm, err := submitter.CreateTopic(ctx, signer, fmt.Sprintf(memoCommFormat, name))
	if err != nil {
		return types.TopicSet{}, fmt.Errorf("create communication topic: %w", err)
	}
	set.Communication = comm

	tx, err := submitter.CreateTopic(ctx, signer, fmt.Sprintf(memoTxFormat, name))
	if err != nil {
		return types.TopicSet{}, fmt.Errorf("create transaction topic (communication topic %s orphaned): %w", comm, err)
	}
	set.Transaction = tx

	state, err := submitter.CreateTopic(ctx, signer, fmt.Sprintf(memoStateFormat, name))
	if err != nil {
		return types.TopicSet{}, fmt.Errorf("create state topic (topics %s, %s orphaned): %w", comm, tx, err)
	}
	set.State = state

	return set, nil
}
