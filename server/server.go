package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/state"
)

// Options configure a Server.
type Options struct {
	// Name and Description identify this peer on its agent card.
	Name        string
	Description string

	// SupportedSessionTypes and SupportedRoles advertise what this peer
	// participates in.
	SupportedSessionTypes []core.SessionType
	SupportedRoles        []core.Role

	// NegotiationAgent decides replies for negotiation sessions.
	NegotiationAgent agent.Agent
	// ReverseAuctionAgent decides replies for reverse auction sessions.
	ReverseAuctionAgent agent.Agent

	// Store holds session state. A fresh in-memory store is created when
	// none is given.
	Store *state.Store

	Logger logging.Logger
}

// Server is the reactive session peer.
type Server struct {
	opts   Options
	store  *state.Store
	logger logging.Logger
	router chi.Router
}

// New creates a server.
func New(optFns ...func(o *Options)) *Server {
	opts := Options{
		Name:                  "shaket-agent",
		Description:           "Shaket commerce agent",
		SupportedSessionTypes: []core.SessionType{core.SessionTypeNegotiation},
		SupportedRoles:        []core.Role{core.RoleSeller},
		Logger:                logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	store := opts.Store
	if store == nil {
		store = state.NewStore()
	}

	s := &Server{
		opts:   opts,
		store:  store,
		logger: opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/message", s.handleMessage)
	r.Get("/.well-known/agent-card.json", s.handleAgentCard)
	s.router = r

	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

// Store returns the server's session store, for inspecting sessions the
// server participates in.
func (s *Server) Store() *state.Store { return s.store }

// ListenAndServe serves the handler on addr and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr, "name", s.opts.Name)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.agentCard())
}

// agentCard describes this peer's capabilities as discovery metadata.
func (s *Server) agentCard() map[string]any {
	canBuy := false
	canSell := false
	for _, role := range s.opts.SupportedRoles {
		switch role {
		case core.RoleBuyer:
			canBuy = true
		case core.RoleSeller:
			canSell = true
		}
	}

	var skills []map[string]any
	for _, sessionType := range s.opts.SupportedSessionTypes {
		switch sessionType {
		case core.SessionTypeNegotiation:
			skills = append(skills, map[string]any{
				"id":          "negotiation",
				"name":        "One-on-One Negotiation",
				"description": "Negotiate price and terms directly with another agent",
				"tags":        []string{"commerce", "negotiation"},
			})
		case core.SessionTypeReverseAuction:
			if canSell {
				skills = append(skills, map[string]any{
					"id":          "reverse_auction_bidding",
					"name":        "Reverse Auction Bidding",
					"description": "Compete with other sellers by submitting bids across rounds",
					"tags":        []string{"commerce", "auction"},
				})
			}
			if canBuy {
				skills = append(skills, map[string]any{
					"id":          "reverse_auction_buying",
					"name":        "Reverse Auction Buying",
					"description": "Collect competing seller bids across rounds",
					"tags":        []string{"commerce", "auction"},
				})
			}
		}
	}

	sessionTypes := make([]string, len(s.opts.SupportedSessionTypes))
	for i, st := range s.opts.SupportedSessionTypes {
		sessionTypes[i] = string(st)
	}
	roles := make([]string, len(s.opts.SupportedRoles))
	for i, role := range s.opts.SupportedRoles {
		roles[i] = string(role)
	}

	return map[string]any{
		"name":                    s.opts.Name,
		"description":             s.opts.Description,
		"supported_session_types": sessionTypes,
		"supported_roles":         roles,
		"skills":                  skills,
	}
}
