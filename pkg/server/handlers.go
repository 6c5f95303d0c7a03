package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petalstack/florae/pkg/flora"
	"github.com/petalstack/florae/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("write response", "error", err)
		}
	}
}

// writeError maps protocol errors onto HTTP statuses. Precondition failures
// are client errors; anything else is a 500 with the message passed through
// so the caller can surface it as a notification.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, flora.ErrFloraNotFound), errors.Is(err, flora.ErrInviteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, flora.ErrNoSigner), errors.Is(err, flora.ErrNoAccount):
		status = http.StatusUnauthorized
	case errors.Is(err, flora.ErrEmptyName), errors.Is(err, flora.ErrNoInvitees),
		errors.Is(err, flora.ErrNoInboundTopic):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// requireSession fetches the active identity or answers 401.
func (s *Server) requireSession(w http.ResponseWriter) (flora.Identity, bool) {
	id, ok := s.identity()
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no active session"})
	}
	return id, ok
}

func floraIDParam(r *http.Request) types.TopicID {
	return types.TopicID(chi.URLParam(r, "floraID"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectRequest struct {
	AccountID      types.AccountID `json:"accountId"`
	Alias          string          `json:"alias"`
	InboundTopicID types.TopicID   `json:"inboundTopicId"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "accountId is required"})
		return
	}

	signer, err := s.signerProvider(req.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	id := flora.Identity{AccountID: req.AccountID, Alias: req.Alias, Signer: signer}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		identity: id,
		ctx:      ctx,
		cancel:   cancel,
		feeds:    make(map[types.TopicID]*flora.Feed),
	}

	// Start following the identity's inbound topic so invitations land in
	// the local store while the session is up.
	if req.InboundTopicID != "" {
		sub, err := s.service.WatchInbox(ctx, id, req.InboundTopicID, func(err error) {
			s.logger.Warn("inbox stream error", "account", id.AccountID, "error", err)
		})
		if err != nil {
			cancel()
			s.writeError(w, err)
			return
		}
		sess.inbox = sub
	}

	s.swapSession(sess)

	s.logger.Info("session connected", "account", req.AccountID)
	s.writeJSON(w, http.StatusOK, map[string]any{"accountId": req.AccountID, "alias": req.Alias})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.swapSession(nil)
	w.WriteHeader(http.StatusNoContent)
}

type createFloraRequest struct {
	Name     string `json:"name"`
	Invitees []struct {
		Alias          string          `json:"alias"`
		AccountID      types.AccountID `json:"accountId"`
		InboundTopicID types.TopicID   `json:"inboundTopicId"`
	} `json:"invitees"`
}

func (s *Server) handleCreateFlora(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req createFloraRequest
	if !s.decode(w, r, &req) {
		return
	}

	invitees := make([]flora.Invitee, 0, len(req.Invitees))
	for _, inv := range req.Invitees {
		invitees = append(invitees, flora.Invitee{
			Alias:          inv.Alias,
			AccountID:      inv.AccountID,
			InboundTopicID: inv.InboundTopicID,
		})
	}

	created, err := s.service.CreateFlora(r.Context(), id, req.Name, invitees)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListFloras(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	floras, err := s.service.Floras(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if floras == nil {
		floras = []types.Flora{}
	}
	s.writeJSON(w, http.StatusOK, floras)
}

func (s *Server) handleGetFlora(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	result, err := s.service.Flora(r.Context(), id, floraIDParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type feedResponse struct {
	Topics    types.TopicSet        `json:"topics"`
	Chats     []flora.ChatMessage   `json:"chats"`
	Proposals []flora.ProposalEntry `json:"proposals"`
	Votes     []flora.VoteEntry     `json:"votes"`
	States    []flora.StateUpdate   `json:"states"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession()
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no active session"})
		return
	}

	floraID := floraIDParam(r)
	feed, err := sess.feed(s.service, floraID, func(err error) {
		s.logger.Warn("feed stream error", "flora", floraID, "error", err)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := feedResponse{
		Topics:    feed.Topics,
		Chats:     feed.Chats(),
		Proposals: feed.Proposals(),
		Votes:     feed.Votes(),
		States:    feed.States(),
	}
	if resp.Chats == nil {
		resp.Chats = []flora.ChatMessage{}
	}
	if resp.Proposals == nil {
		resp.Proposals = []flora.ProposalEntry{}
	}
	if resp.Votes == nil {
		resp.Votes = []flora.VoteEntry{}
	}
	if resp.States == nil {
		resp.States = []flora.StateUpdate{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	invites, err := s.service.Invites(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if invites == nil {
		invites = []types.Invite{}
	}
	s.writeJSON(w, http.StatusOK, invites)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	accepted, err := s.service.Accept(r.Context(), id, floraIDParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accepted)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	if err := s.service.Decline(r.Context(), id, floraIDParam(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.SendChat(r.Context(), id, floraIDParam(r), req.Content); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type proposalRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	proposalID, err := s.service.SubmitProposal(r.Context(), id, floraIDParam(r), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"proposalId": proposalID})
}

type voteRequest struct {
	ProposalID string `json:"proposalId"`
	Vote       string `json:"vote"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req voteRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.service.CastVote(r.Context(), id, floraIDParam(r), req.ProposalID, flora.VoteChoice(req.Vote))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type stateRequest struct {
	Summary string `json:"summary"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req stateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.PublishState(r.Context(), id, floraIDParam(r), req.Summary); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	var req muteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.SetMuted(r.Context(), id, floraIDParam(r), req.Muted); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreference(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSession(w)
	if !ok {
		return
	}
	pref, err := s.service.Preference(r.Context(), id, floraIDParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pref)
}
