package flora_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/internal/ledger/ledgertest"
	"github.com/petalstack/florae/internal/registry"
	"github.com/petalstack/florae/internal/storage/sqlite"
	"github.com/petalstack/florae/pkg/envelope"
	"github.com/petalstack/florae/pkg/flora"
	"github.com/petalstack/florae/pkg/types"
)

func newTestService(t *testing.T, fake *ledgertest.Fake, dir registry.Directory) *flora.FloraService {
	t.Helper()
	stores := sqlite.NewStoreManager(t.TempDir())
	t.Cleanup(func() { stores.CloseAll() })
	return flora.NewFloraService(flora.FloraServiceConfig{
		Submitter: fake,
		Channel:   fake,
		Directory: dir,
		Stores:    stores,
		Logger:    slog.New(slog.DiscardHandler),
	})
}

func identity(account types.AccountID, alias string) flora.Identity {
	return flora.Identity{
		AccountID: account,
		Alias:     alias,
		Signer:    ledgertest.Signer{Account: account},
	}
}

func decodeAll(t *testing.T, messages []ledger.Message) []*envelope.Envelope {
	t.Helper()
	out := make([]*envelope.Envelope, 0, len(messages))
	for _, msg := range messages {
		env, err := envelope.Decode(msg.Contents)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestCreateFlora(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	created, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{Alias: "bob", AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.NoError(t, err)

	// Three topics, provisioned communication first, each memo naming its role.
	assert.Equal(t, "Flora:Bloom-Comm", fake.Memo(created.Topics.Communication))
	assert.Equal(t, "Flora:Bloom-Tx", fake.Memo(created.Topics.Transaction))
	assert.Equal(t, "Flora:Bloom-State", fake.Memo(created.Topics.State))
	assert.Equal(t, created.Topics.Communication, created.ID)

	// One invitation landed on Bob's inbound topic.
	inbound := decodeAll(t, fake.Messages("0.0.500"))
	require.Len(t, inbound, 1)
	assert.Equal(t, envelope.KindCreateRequest, inbound[0].Type)
	assert.EqualValues(t, "0.0.1", inbound[0].From)
	assert.EqualValues(t, "0.0.2", inbound[0].CreateRequest.To)
	assert.Equal(t, created.ID, inbound[0].CreateRequest.Flora.CommunicationTopicID)

	// And the self-announcement on the new communication topic.
	announce := decodeAll(t, fake.Messages(created.Topics.Communication))
	require.Len(t, announce, 1)
	assert.Equal(t, envelope.KindCreateRequest, announce[0].Type)
	assert.EqualValues(t, "0.0.1", announce[0].CreateRequest.To)

	// Persisted locally as pending with the initiator marked self.
	got, err := svc.Flora(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FloraPending, got.Status)
	require.Len(t, got.Members, 2)
	assert.Equal(t, types.MemberSelf, got.Members[0].Status)
	assert.Equal(t, types.MemberInvited, got.Members[1].Status)
}

func TestCreateFlora_Preconditions(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")
	invitees := []flora.Invitee{{AccountID: "0.0.2", InboundTopicID: "0.0.500"}}

	_, err := svc.CreateFlora(ctx, flora.Identity{Signer: ledgertest.Signer{}}, "Bloom", invitees)
	assert.ErrorIs(t, err, flora.ErrNoAccount)

	_, err = svc.CreateFlora(ctx, flora.Identity{AccountID: "0.0.1"}, "Bloom", invitees)
	assert.ErrorIs(t, err, flora.ErrNoSigner)

	_, err = svc.CreateFlora(ctx, alice, "", invitees)
	assert.ErrorIs(t, err, flora.ErrEmptyName)

	_, err = svc.CreateFlora(ctx, alice, "Bloom", nil)
	assert.ErrorIs(t, err, flora.ErrNoInvitees)

	// An unaddressable invitee fails before anything reaches the ledger.
	_, err = svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{{AccountID: "0.0.2"}})
	assert.ErrorIs(t, err, flora.ErrNoInboundTopic)
	assert.Zero(t, fake.TopicCount())
}

type staticDirectory map[string]registry.Entry

func (d staticDirectory) Resolve(_ context.Context, alias string) (*registry.Entry, error) {
	entry, ok := d[alias]
	if !ok {
		return nil, registry.ErrUnknownAlias
	}
	return &entry, nil
}

func TestCreateFlora_ResolvesInviteesByAlias(t *testing.T) {
	fake := ledgertest.New()
	dir := staticDirectory{
		"bob": {Alias: "bob", AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	}
	svc := newTestService(t, fake, dir)
	alice := identity("0.0.1", "alice")

	created, err := svc.CreateFlora(context.Background(), alice, "Bloom", []flora.Invitee{{Alias: "bob"}})
	require.NoError(t, err)
	assert.Len(t, fake.Messages("0.0.500"), 1)

	member, ok := created.Member("0.0.2")
	require.True(t, ok)
	assert.EqualValues(t, "0.0.500", member.InboundTopicID)

	_, err = svc.CreateFlora(context.Background(), alice, "Thorn", []flora.Invitee{{Alias: "mallory"}})
	assert.ErrorIs(t, err, registry.ErrUnknownAlias)
}

func TestCreateFlora_PartialProvisioningPersistsNothing(t *testing.T) {
	fake := ledgertest.New()
	fake.FailCreateAfter = 2
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	_, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned")

	floras, err := svc.Floras(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, floras)
}

func TestCreateFlora_FanOutFailureStillPersists(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	fake.FailPublish = true
	created, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.NoError(t, err)

	got, err := svc.Flora(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FloraPending, got.Status)
}

func TestCreateFlora_MembersAreUnique(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	// A repeated invitee and the initiator itself collapse into one member
	// entry each; no self-invite is delivered.
	created, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{AccountID: "0.0.2", InboundTopicID: "0.0.500"},
		{AccountID: "0.0.2", InboundTopicID: "0.0.500"},
		{AccountID: "0.0.1", InboundTopicID: "0.0.400"},
	})
	require.NoError(t, err)

	require.Len(t, created.Members, 2)
	counts := map[types.AccountID]int{}
	for _, m := range created.Members {
		counts[m.AccountID]++
	}
	assert.Equal(t, 1, counts["0.0.1"])
	assert.Equal(t, 1, counts["0.0.2"])

	assert.Len(t, fake.Messages("0.0.500"), 1)
	assert.Empty(t, fake.Messages("0.0.400"))
}

func TestCreateFlora_OnlySelfInvited(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	alice := identity("0.0.1", "alice")

	// Inviting nobody but yourself leaves no one to invite, caught before
	// anything reaches the ledger.
	_, err := svc.CreateFlora(context.Background(), alice, "Bloom", []flora.Invitee{
		{AccountID: "0.0.1", InboundTopicID: "0.0.400"},
	})
	assert.ErrorIs(t, err, flora.ErrNoInvitees)
	assert.Zero(t, fake.TopicCount())
}

func inviteEnvelope(from types.AccountID, content string, comm types.TopicID) *envelope.Envelope {
	return &envelope.Envelope{
		Type:   envelope.KindCreateRequest,
		From:   from,
		SentAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CreateRequest: &envelope.CreateRequest{
			To:      "0.0.2",
			Content: content,
			Flora: envelope.FloraDescriptor{
				Name:                 "Bloom",
				CommunicationTopicID: comm,
				TransactionTopicID:   "0.0.1001",
				StateTopicID:         "0.0.1002",
				Initiator:            envelope.Party{AccountID: from, Alias: "alice"},
				Members:              []envelope.Party{{AccountID: "0.0.2", Alias: "bob"}},
			},
		},
	}
}

func TestIngestInvite_Idempotent(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	bob := identity("0.0.2", "bob")

	first, err := svc.IngestInvite(ctx, bob, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, types.InviteID("0.0.1000", "0.0.2"), first.ID)

	// Redelivery replaces the stored invitation; the count stays at one.
	_, err = svc.IngestInvite(ctx, bob, inviteEnvelope("0.0.1", "join us, again", "0.0.1000"))
	require.NoError(t, err)

	invites, err := svc.Invites(ctx, bob)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Contains(t, string(invites[0].Invitation), "join us, again")
	assert.Equal(t, types.FloraPending, invites[0].Flora.Status)
	assert.EqualValues(t, "0.0.1", invites[0].Flora.InitiatorAccountID)
}

func TestIngestInvite_DedupesDeclaredMembers(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	bob := identity("0.0.2", "bob")

	env := inviteEnvelope("0.0.1", "join us", "0.0.1000")
	// An inviter-controlled member list may repeat entries and re-list the
	// initiator; the local snapshot still holds one entry per account.
	env.CreateRequest.Flora.Members = []envelope.Party{
		{AccountID: "0.0.2", Alias: "bob"},
		{AccountID: "0.0.2", Alias: "bob"},
		{AccountID: "0.0.1", Alias: "alice"},
		{AccountID: "0.0.3", Alias: "carol"},
	}

	invite, err := svc.IngestInvite(ctx, bob, env)
	require.NoError(t, err)
	require.NotNil(t, invite)

	require.Len(t, invite.Flora.Members, 3)
	counts := map[types.AccountID]int{}
	for _, m := range invite.Flora.Members {
		counts[m.AccountID]++
	}
	assert.Equal(t, 1, counts["0.0.1"])
	assert.Equal(t, 1, counts["0.0.2"])
	assert.Equal(t, 1, counts["0.0.3"])
}

func TestIngestInvite_IgnoresUnrelatedRequests(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()

	// Own announcement on a communication topic.
	alice := identity("0.0.1", "alice")
	invite, err := svc.IngestInvite(ctx, alice, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)
	assert.Nil(t, invite)

	// A request naming neither the recipient nor a matching member.
	carol := identity("0.0.3", "carol")
	invite, err = svc.IngestInvite(ctx, carol, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)
	assert.Nil(t, invite)

	invites, err := svc.Invites(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestAccept(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	bob := identity("0.0.2", "bob")

	_, err := svc.IngestInvite(ctx, bob, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, bob, "0.0.1000")
	require.NoError(t, err)

	// Accept publishes the handshake on the communication topic: the join
	// accept first, then the created confirmation.
	published := decodeAll(t, fake.Messages("0.0.1000"))
	require.Len(t, published, 2)
	assert.Equal(t, envelope.KindJoinAccept, published[0].Type)
	assert.EqualValues(t, "0.0.1000", published[0].JoinAccept.FloraID)
	assert.EqualValues(t, "0.0.1", published[0].JoinAccept.To)
	assert.Equal(t, envelope.KindCreated, published[1].Type)

	// Locally the group is active and the invite is gone.
	assert.Equal(t, types.FloraActive, accepted.Status)
	member, ok := accepted.Member("0.0.2")
	require.True(t, ok)
	assert.Equal(t, types.MemberAccepted, member.Status)

	invites, err := svc.Invites(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, invites)

	_, err = svc.Accept(ctx, bob, "0.0.1000")
	assert.ErrorIs(t, err, flora.ErrInviteNotFound)
}

func TestAccept_PublishFailureKeepsInvite(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	bob := identity("0.0.2", "bob")

	_, err := svc.IngestInvite(ctx, bob, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)

	fake.FailPublish = true
	_, err = svc.Accept(ctx, bob, "0.0.1000")
	require.Error(t, err)

	// The invite survives a failed handshake and can be retried.
	invites, err := svc.Invites(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, invites, 1)
}

func TestDecline_RemovesInviteSilently(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	bob := identity("0.0.2", "bob")

	_, err := svc.IngestInvite(ctx, bob, inviteEnvelope("0.0.1", "join us", "0.0.1000"))
	require.NoError(t, err)

	require.NoError(t, svc.Decline(ctx, bob, "0.0.1000"))

	invites, err := svc.Invites(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, invites)
	// Nothing is published; the initiator is not told.
	assert.Empty(t, fake.Messages("0.0.1000"))

	assert.ErrorIs(t, svc.Decline(ctx, bob, "0.0.1000"), flora.ErrInviteNotFound)
}

func TestPublishOperationsTargetTheirTopics(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	created, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.SendChat(ctx, alice, created.ID, "hello bloom"))

	proposalID, err := svc.SubmitProposal(ctx, alice, created.ID, "plant roses")
	require.NoError(t, err)
	require.NotEmpty(t, proposalID)
	require.NoError(t, svc.CastVote(ctx, alice, created.ID, proposalID, flora.VoteYes))

	require.NoError(t, svc.PublishState(ctx, alice, created.ID, "roses planted"))

	comm := decodeAll(t, fake.Messages(created.Topics.Communication))
	require.Len(t, comm, 2) // announcement + chat
	assert.Equal(t, envelope.KindChat, comm[1].Type)
	assert.Equal(t, "hello bloom", comm[1].Chat.Content)

	tx := decodeAll(t, fake.Messages(created.Topics.Transaction))
	require.Len(t, tx, 2)
	assert.Equal(t, envelope.KindProposal, tx[0].Type)
	assert.Equal(t, proposalID, tx[0].Proposal.ProposalID)
	assert.Equal(t, envelope.KindVote, tx[1].Type)
	assert.Equal(t, "yes", tx[1].Vote.Vote)

	state := decodeAll(t, fake.Messages(created.Topics.State))
	require.Len(t, state, 1)
	assert.Equal(t, "roses planted", state[0].State.Summary)
	require.NotNil(t, state[0].State.StateHash)

	err = svc.SendChat(ctx, alice, "0.0.9999", "nobody home")
	assert.ErrorIs(t, err, flora.ErrFloraNotFound)
}

func TestMutePreference(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")

	pref, err := svc.Preference(ctx, alice, "0.0.1000")
	require.NoError(t, err)
	assert.False(t, pref.Muted)

	require.NoError(t, svc.SetMuted(ctx, alice, "0.0.1000", true))
	pref, err = svc.Preference(ctx, alice, "0.0.1000")
	require.NoError(t, err)
	assert.True(t, pref.Muted)
}

func TestWatchInbox(t *testing.T) {
	fake := ledgertest.New()
	svc := newTestService(t, fake, nil)
	ctx := context.Background()
	alice := identity("0.0.1", "alice")
	bob := identity("0.0.2", "bob")

	// An invitation sent before Bob starts watching is picked up from history.
	created, err := svc.CreateFlora(ctx, alice, "Bloom", []flora.Invitee{
		{Alias: "bob", AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.NoError(t, err)

	sub, err := svc.WatchInbox(ctx, bob, "0.0.500", nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	invites, err := svc.Invites(ctx, bob)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, created.ID, invites[0].Flora.ID)

	// A second group invitation arrives live.
	second, err := svc.CreateFlora(ctx, alice, "Thorn", []flora.Invitee{
		{Alias: "bob", AccountID: "0.0.2", InboundTopicID: "0.0.500"},
	})
	require.NoError(t, err)

	invites, err = svc.Invites(ctx, bob)
	require.NoError(t, err)
	require.Len(t, invites, 2)
	ids := []types.TopicID{invites[0].Flora.ID, invites[1].Flora.ID}
	assert.Contains(t, ids, created.ID)
	assert.Contains(t, ids, second.ID)

	// Garbage on the inbound topic is skipped without disturbing the watch.
	fake.Deliver("0.0.500", ledger.Message{
		ConsensusTimestamp: "1800000000.000000001",
		SequenceNumber:     99,
		Contents:           "not-base64!!",
	})
	invites, err = svc.Invites(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, invites, 2)
}
