package flora

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/internal/registry"
	"github.com/petalstack/florae/internal/storage/sqlite"
	"github.com/petalstack/florae/pkg/envelope"
	"github.com/petalstack/florae/pkg/types"
)

// FloraService drives the coordination protocol for local identities.
type FloraService struct {
	submitter ledger.Submitter
	channel   ledger.Channel
	directory registry.Directory
	stores    *sqlite.StoreManager
	logger    *slog.Logger

	now           func() time.Time
	newProposalID func() string
}

// FloraServiceConfig holds the collaborators a FloraService needs.
type FloraServiceConfig struct {
	Submitter ledger.Submitter
	Channel   ledger.Channel
	Directory registry.Directory
	Stores    *sqlite.StoreManager
	Logger    *slog.Logger
}

// NewFloraService creates a FloraService.
func NewFloraService(cfg FloraServiceConfig) *FloraService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FloraService{
		submitter:     cfg.Submitter,
		channel:       cfg.Channel,
		directory:     cfg.Directory,
		stores:        cfg.Stores,
		logger:        logger,
		now:           time.Now,
		newProposalID: uuid.NewString,
	}
}

// CreateFlora provisions a new group, fans the invitation out to every
// invitee with a known inbound topic, announces it on the new communication
// topic, and persists the pending group locally. Fan-out and announcement
// are best-effort: a partial delivery still yields a valid pending flora.
func (s *FloraService) CreateFlora(ctx context.Context, id Identity, name string, invitees []Invitee) (*types.Flora, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(invitees) == 0 {
		return nil, ErrNoInvitees
	}

	resolved, err := s.resolveInvitees(ctx, id.AccountID, invitees)
	if err != nil {
		return nil, err
	}

	topics, err := CreateGroupTopics(ctx, s.submitter, id.Signer, name)
	if err != nil {
		return nil, err
	}

	descriptor := envelope.FloraDescriptor{
		Name:                 name,
		CommunicationTopicID: topics.Communication,
		TransactionTopicID:   topics.Transaction,
		StateTopicID:         topics.State,
		Initiator:            envelope.Party{AccountID: id.AccountID, Alias: id.Alias},
		Members:              make([]envelope.Party, 0, len(resolved)),
	}
	for _, inv := range resolved {
		descriptor.Members = append(descriptor.Members, envelope.Party{AccountID: inv.AccountID, Alias: inv.Alias})
	}

	// Direct fan-out: one invitation per invitee on their inbound topic, so
	// parties with no subscription to the new topics learn about the group.
	for _, inv := range resolved {
		env := s.createRequestEnvelope(id, inv.AccountID, name, descriptor)
		payload, err := envelope.Encode(env)
		if err != nil {
			return nil, fmt.Errorf("encode invitation for %s: %w", inv.AccountID, err)
		}
		if _, err := s.submitter.Publish(ctx, id.Signer, inv.InboundTopicID, payload, ""); err != nil {
			s.logger.Warn("invitation fan-out failed",
				"flora", topics.Communication, "invitee", inv.AccountID, "error", err)
		}
	}

	// Self-announcement on the communication topic, so late subscribers can
	// discover the group without relying on direct delivery.
	announce := s.createRequestEnvelope(id, id.AccountID, name, descriptor)
	payload, err := envelope.Encode(announce)
	if err != nil {
		return nil, fmt.Errorf("encode announcement: %w", err)
	}
	if _, err := s.submitter.Publish(ctx, id.Signer, topics.Communication, payload, ""); err != nil {
		s.logger.Warn("announcement publish failed", "flora", topics.Communication, "error", err)
	}

	flora := &types.Flora{
		ID:                 topics.Communication,
		Name:               name,
		Topics:             topics,
		Status:             types.FloraPending,
		CreatedAt:          s.now(),
		InitiatorAccountID: id.AccountID,
		Members:            make([]types.Member, 0, len(resolved)+1),
	}
	flora.Members = append(flora.Members, types.Member{
		AccountID: id.AccountID,
		Alias:     id.Alias,
		Status:    types.MemberSelf,
	})
	for _, inv := range resolved {
		flora.Members = append(flora.Members, types.Member{
			AccountID:      inv.AccountID,
			Alias:          inv.Alias,
			InboundTopicID: inv.InboundTopicID,
			Status:         types.MemberInvited,
		})
	}

	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.PutFlora(ctx, flora); err != nil {
		return nil, fmt.Errorf("persist flora %s: %w", flora.ID, err)
	}

	s.logger.Info("flora created", "flora", flora.ID, "name", name, "invitees", len(resolved))
	return flora, nil
}

func (s *FloraService) createRequestEnvelope(id Identity, to types.AccountID, name string, descriptor envelope.FloraDescriptor) *envelope.Envelope {
	return &envelope.Envelope{
		Type:   envelope.KindCreateRequest,
		From:   id.AccountID,
		SentAt: s.now(),
		CreateRequest: &envelope.CreateRequest{
			To:      to,
			Content: fmt.Sprintf("You have been invited to join %s", name),
			Flora:   descriptor,
		},
	}
}

// resolveInvitees fills in missing account ids and inbound topics through
// the directory. An invitee that cannot be addressed is a precondition
// failure, reported before anything is created on the ledger. Member account
// ids are unique: repeated invitees and the initiator itself are dropped
// after resolution, so neither produces a duplicate member or a self-invite.
func (s *FloraService) resolveInvitees(ctx context.Context, local types.AccountID, invitees []Invitee) ([]Invitee, error) {
	resolved := make([]Invitee, 0, len(invitees))
	seen := map[types.AccountID]struct{}{local: {}}
	for _, inv := range invitees {
		if inv.AccountID == "" || inv.InboundTopicID == "" {
			if s.directory == nil || inv.Alias == "" {
				return nil, fmt.Errorf("%w: %q", ErrNoInboundTopic, inv.Alias)
			}
			entry, err := s.directory.Resolve(ctx, inv.Alias)
			if err != nil {
				return nil, fmt.Errorf("resolve invitee %q: %w", inv.Alias, err)
			}
			if inv.AccountID == "" {
				inv.AccountID = entry.AccountID
			}
			if inv.InboundTopicID == "" {
				inv.InboundTopicID = entry.InboundTopicID
			}
		}
		if inv.InboundTopicID == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoInboundTopic, inv.AccountID)
		}
		if _, dup := seen[inv.AccountID]; dup {
			continue
		}
		seen[inv.AccountID] = struct{}{}
		resolved = append(resolved, inv)
	}
	if len(resolved) == 0 {
		return nil, ErrNoInvitees
	}
	return resolved, nil
}

// IngestInvite materializes (or replaces) the local invite for a received
// flora_create_request. Re-receipt upserts on the deterministic invite id,
// so duplicated delivery cannot produce duplicate invites. Requests that do
// not concern the local identity are ignored.
func (s *FloraService) IngestInvite(ctx context.Context, id Identity, env *envelope.Envelope) (*types.Invite, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	if env == nil || env.Type != envelope.KindCreateRequest || env.CreateRequest == nil {
		return nil, fmt.Errorf("not a %s envelope", envelope.KindCreateRequest)
	}

	req := env.CreateRequest
	if env.From == id.AccountID {
		// Own announcement observed on the communication topic.
		return nil, nil
	}
	if req.To != id.AccountID && !descriptorNames(req.Flora, id.AccountID) {
		return nil, nil
	}

	raw, err := envelope.EncodeJSON(env)
	if err != nil {
		return nil, fmt.Errorf("re-encode invitation: %w", err)
	}

	invite := &types.Invite{
		ID:         types.InviteID(req.Flora.CommunicationTopicID, id.AccountID),
		Flora:      floraFromDescriptor(req.Flora, s.now()),
		Invitation: raw,
		ReceivedAt: s.now(),
	}

	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.PutInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("persist invite %s: %w", invite.ID, err)
	}

	s.logger.Info("invite ingested", "invite", invite.ID, "from", env.From)
	return invite, nil
}

func descriptorNames(d envelope.FloraDescriptor, account types.AccountID) bool {
	for _, m := range d.Members {
		if m.AccountID == account {
			return true
		}
	}
	return false
}

// floraFromDescriptor builds the local group snapshot from an inviter's
// declaration. The initiator is recorded as accepted (they provisioned the
// group); everyone else starts as invited, including the local identity
// until it accepts. Member account ids are unique even when the declared
// member list repeats entries.
func floraFromDescriptor(d envelope.FloraDescriptor, now time.Time) types.Flora {
	flora := types.Flora{
		ID:   d.CommunicationTopicID,
		Name: d.Name,
		Topics: types.TopicSet{
			Communication: d.CommunicationTopicID,
			Transaction:   d.TransactionTopicID,
			State:         d.StateTopicID,
		},
		Status:             types.FloraPending,
		CreatedAt:          now,
		InitiatorAccountID: d.Initiator.AccountID,
	}
	flora.Members = append(flora.Members, types.Member{
		AccountID: d.Initiator.AccountID,
		Alias:     d.Initiator.Alias,
		Status:    types.MemberAccepted,
	})
	seen := map[types.AccountID]struct{}{d.Initiator.AccountID: {}}
	for _, m := range d.Members {
		if _, dup := seen[m.AccountID]; dup {
			continue
		}
		seen[m.AccountID] = struct{}{}
		flora.Members = append(flora.Members, types.Member{
			AccountID: m.AccountID,
			Alias:     m.Alias,
			Status:    types.MemberInvited,
		})
	}
	return flora
}

// Accept publishes flora_join_accept and flora_created on the communication
// topic, deletes the local invite and persists the group as active with the
// local member accepted. Activation is local and optimistic: other members'
// entries keep their last known status.
func (s *FloraService) Accept(ctx context.Context, id Identity, floraID types.TopicID) (*types.Flora, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}

	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	inviteID := types.InviteID(floraID, id.AccountID)
	invite, err := store.GetInvite(ctx, inviteID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInviteNotFound, inviteID)
		}
		return nil, fmt.Errorf("load invite %s: %w", inviteID, err)
	}

	accept := &envelope.Envelope{
		Type:   envelope.KindJoinAccept,
		From:   id.AccountID,
		SentAt: s.now(),
		JoinAccept: &envelope.JoinAccept{
			To:      invite.Flora.InitiatorAccountID,
			Content: fmt.Sprintf("%s joined %s", id.AccountID, invite.Flora.Name),
			FloraID: floraID,
		},
	}
	if err := s.publishEnvelope(ctx, id, floraID, accept); err != nil {
		return nil, fmt.Errorf("publish join accept: %w", err)
	}

	created := &envelope.Envelope{
		Type:   envelope.KindCreated,
		From:   id.AccountID,
		SentAt: s.now(),
		Created: &envelope.Created{
			To:      invite.Flora.InitiatorAccountID,
			Content: fmt.Sprintf("%s is established", invite.Flora.Name),
			FloraID: floraID,
		},
	}
	if err := s.publishEnvelope(ctx, id, floraID, created); err != nil {
		return nil, fmt.Errorf("publish created: %w", err)
	}

	flora := invite.Flora
	flora.Status = types.FloraActive
	if _, ok := flora.Member(id.AccountID); !ok {
		flora.Members = append(flora.Members, types.Member{AccountID: id.AccountID, Alias: id.Alias})
	}
	flora.SetMemberStatus(id.AccountID, types.MemberAccepted)

	if err := store.PutFlora(ctx, &flora); err != nil {
		return nil, fmt.Errorf("persist flora %s: %w", flora.ID, err)
	}
	if err := store.DeleteInvite(ctx, inviteID); err != nil {
		return nil, fmt.Errorf("delete invite %s: %w", inviteID, err)
	}

	s.logger.Info("invite accepted", "flora", floraID)
	return &flora, nil
}

// Decline removes the local invite. No message is published; the initiator
// is not notified.
func (s *FloraService) Decline(ctx context.Context, id Identity, floraID types.TopicID) error {
	if id.AccountID == "" {
		return ErrNoAccount
	}

	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	inviteID := types.InviteID(floraID, id.AccountID)
	if _, err := store.GetInvite(ctx, inviteID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInviteNotFound, inviteID)
		}
		return fmt.Errorf("load invite %s: %w", inviteID, err)
	}

	if err := store.DeleteInvite(ctx, inviteID); err != nil {
		return fmt.Errorf("delete invite %s: %w", inviteID, err)
	}
	s.logger.Info("invite declined", "flora", floraID)
	return nil
}

// Floras lists the identity's known groups.
func (s *FloraService) Floras(ctx context.Context, id Identity) ([]types.Flora, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store.ListFloras(ctx)
}

// Flora returns one known group.
func (s *FloraService) Flora(ctx context.Context, id Identity, floraID types.TopicID) (*types.Flora, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	flora, err := store.GetFlora(ctx, floraID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFloraNotFound, floraID)
		}
		return nil, err
	}
	return flora, nil
}

// Invites lists the identity's pending invites.
func (s *FloraService) Invites(ctx context.Context, id Identity) ([]types.Invite, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store.ListInvites(ctx)
}

// SendChat publishes a chat message on the flora's communication topic.
func (s *FloraService) SendChat(ctx context.Context, id Identity, floraID types.TopicID, content string) error {
	flora, err := s.requireFlora(ctx, id, floraID)
	if err != nil {
		return err
	}
	env := &envelope.Envelope{
		Type:   envelope.KindChat,
		From:   id.AccountID,
		SentAt: s.now(),
		Chat:   &envelope.Chat{Content: content},
	}
	return s.publishEnvelope(ctx, id, flora.Topics.Communication, env)
}

// SubmitProposal publishes a proposal on the transaction topic and returns
// its generated id.
func (s *FloraService) SubmitProposal(ctx context.Context, id Identity, floraID types.TopicID, text string) (string, error) {
	flora, err := s.requireFlora(ctx, id, floraID)
	if err != nil {
		return "", err
	}
	proposalID := s.newProposalID()
	env := &envelope.Envelope{
		Type:     envelope.KindProposal,
		From:     id.AccountID,
		SentAt:   s.now(),
		Proposal: &envelope.Proposal{ProposalID: proposalID, Text: text},
	}
	if err := s.publishEnvelope(ctx, id, flora.Topics.Transaction, env); err != nil {
		return "", err
	}
	return proposalID, nil
}

// CastVote publishes a vote on the transaction topic. Votes reference
// proposals by id only; no tally is computed here.
func (s *FloraService) CastVote(ctx context.Context, id Identity, floraID types.TopicID, proposalID string, choice VoteChoice) error {
	flora, err := s.requireFlora(ctx, id, floraID)
	if err != nil {
		return err
	}
	env := &envelope.Envelope{
		Type:   envelope.KindVote,
		From:   id.AccountID,
		SentAt: s.now(),
		Vote:   &envelope.Vote{ProposalID: proposalID, Vote: string(choice)},
	}
	return s.publishEnvelope(ctx, id, flora.Topics.Transaction, env)
}

// PublishState publishes a state update with a content hash of the summary
// for external verification.
func (s *FloraService) PublishState(ctx context.Context, id Identity, floraID types.TopicID, summary string) error {
	flora, err := s.requireFlora(ctx, id, floraID)
	if err != nil {
		return err
	}
	hash, err := StateHash(summary)
	if err != nil {
		return fmt.Errorf("hash state summary: %w", err)
	}
	env := &envelope.Envelope{
		Type:   envelope.KindState,
		From:   id.AccountID,
		SentAt: s.now(),
		State:  &envelope.State{Summary: summary, StateHash: &hash},
	}
	return s.publishEnvelope(ctx, id, flora.Topics.State, env)
}

// SetMuted toggles the mute preference for a flora.
func (s *FloraService) SetMuted(ctx context.Context, id Identity, floraID types.TopicID, muted bool) error {
	if id.AccountID == "" {
		return ErrNoAccount
	}
	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return store.SetMuted(ctx, floraID, muted)
}

// Preference reads the local preference for a flora.
func (s *FloraService) Preference(ctx context.Context, id Identity, floraID types.TopicID) (*types.Preference, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	store, err := s.stores.GetStore(id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store.GetPreference(ctx, floraID)
}

// OpenFeed starts reconciliation over the flora's three topics.
func (s *FloraService) OpenFeed(ctx context.Context, id Identity, floraID types.TopicID, onError func(error)) (*Feed, error) {
	flora, err := s.Flora(ctx, id, floraID)
	if err != nil {
		return nil, err
	}
	r := NewReconciler(s.channel, s.logger)
	return r.Open(ctx, flora.Topics, onError)
}

func (s *FloraService) requireFlora(ctx context.Context, id Identity, floraID types.TopicID) (*types.Flora, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	return s.Flora(ctx, id, floraID)
}

func (s *FloraService) publishEnvelope(ctx context.Context, id Identity, topic types.TopicID, env *envelope.Envelope) error {
	payload, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if _, err := s.submitter.Publish(ctx, id.Signer, topic, payload, ""); err != nil {
		return err
	}
	return nil
}

// Ensure FloraService implements Service.
var _ Service = (*FloraService)(nil)
