package storage

import (
	"context"

	"github.com/petalstack/florae/pkg/types"
)

// GroupStore is the durable, per-identity cache of known floras, pending
// invites and preferences. All writes are last-writer-wins on the record id;
// the store has a single writer (the local identity's own session).
type GroupStore interface {
	PutFlora(ctx context.Context, flora *types.Flora) error
	GetFlora(ctx context.Context, id types.TopicID) (*types.Flora, error)
	ListFloras(ctx context.Context) ([]types.Flora, error)
	DeleteFlora(ctx context.Context, id types.TopicID) error

	PutInvite(ctx context.Context, invite *types.Invite) error
	GetInvite(ctx context.Context, id string) (*types.Invite, error)
	ListInvites(ctx context.Context) ([]types.Invite, error)
	DeleteInvite(ctx context.Context, id string) error

	SetMuted(ctx context.Context, floraID types.TopicID, muted bool) error
	GetPreference(ctx context.Context, floraID types.TopicID) (*types.Preference, error)

	// PurgeExpired removes records past their time-to-live. Reads already
	// hide expired records; this reclaims the space.
	PurgeExpired(ctx context.Context) error
}
