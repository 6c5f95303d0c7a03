// Package server exposes the flora protocol over a local HTTP API. The
// rendering layer lives elsewhere; this is the daemon's outer surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/flora"
	"github.com/petalstack/florae/pkg/types"
)

// Server routes HTTP requests to the protocol service. It tracks one active
// identity session: created on connect, torn down on disconnect, matching
// the single-writer model of the local store.
type Server struct {
	service        flora.Service
	signerProvider SignerProvider
	logger         *slog.Logger
	router         chi.Router

	mu      sync.RWMutex
	session *session
}

// session is the state held for one connected identity: the identity itself,
// the inbox watch ingesting invitations, and any feeds opened while it is
// active. Its context outlives individual requests and is cancelled on
// disconnect.
type session struct {
	identity flora.Identity
	ctx      context.Context
	cancel   context.CancelFunc
	inbox    ledger.Subscription

	mu    sync.Mutex
	feeds map[types.TopicID]*flora.Feed
}

// close tears down the session's subscriptions and feeds.
func (s *session) close() {
	if s.inbox != nil {
		s.inbox.Unsubscribe()
	}
	s.mu.Lock()
	for _, feed := range s.feeds {
		feed.Close()
	}
	s.feeds = nil
	s.mu.Unlock()
	s.cancel()
}

// feed returns the session's feed for a flora, opening it on first use with
// the session context so the live subscriptions outlive the request.
func (s *session) feed(svc flora.Service, floraID types.TopicID, onError func(error)) (*flora.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feed, ok := s.feeds[floraID]; ok {
		return feed, nil
	}
	feed, err := svc.OpenFeed(s.ctx, s.identity, floraID, onError)
	if err != nil {
		return nil, err
	}
	if s.feeds == nil {
		s.feeds = make(map[types.TopicID]*flora.Feed)
	}
	s.feeds[floraID] = feed
	return feed, nil
}

// NewServer creates the HTTP surface.
func NewServer(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)

	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	if cfg.SignerProvider == nil {
		return nil, errors.New("signer provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service:        cfg.Service,
		signerProvider: cfg.SignerProvider,
		logger:         logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/session", s.handleConnect)
	r.Delete("/session", s.handleDisconnect)

	r.Get("/invites", s.handleListInvites)

	r.Route("/floras", func(r chi.Router) {
		r.Get("/", s.handleListFloras)
		r.Post("/", s.handleCreateFlora)
		r.Route("/{floraID}", func(r chi.Router) {
			r.Get("/", s.handleGetFlora)
			r.Get("/feed", s.handleFeed)
			r.Post("/accept", s.handleAccept)
			r.Post("/decline", s.handleDecline)
			r.Post("/chat", s.handleChat)
			r.Post("/proposals", s.handleProposal)
			r.Post("/votes", s.handleVote)
			r.Post("/state", s.handleState)
			r.Put("/mute", s.handleMute)
			r.Get("/preference", s.handlePreference)
		})
	})

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// identity returns the active session's identity, if any.
func (s *Server) identity() (flora.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return flora.Identity{}, false
	}
	return s.session.identity, true
}

// activeSession returns the active session, if any.
func (s *Server) activeSession() (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session != nil
}

// swapSession installs the new session (nil on disconnect) and tears down
// the previous one.
func (s *Server) swapSession(next *session) {
	s.mu.Lock()
	prev := s.session
	s.session = next
	s.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}
