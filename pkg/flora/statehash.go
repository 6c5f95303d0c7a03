package flora

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
)

// StateHash computes the content hash carried by state updates: a CIDv1
// (raw codec, sha2-256) of the UTF-8 summary. Verifiers can recompute it
// from the summary alone; consumers treat it as opaque.
func StateHash(summary string) (string, error) {
	mh, err := multihash.Sum([]byte(summary), multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash summary: %w", err)
	}
	return cid.NewCidV1(uint64(multicodec.Raw), mh).String(), nil
}
