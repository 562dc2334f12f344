// Package api is the HTTP and WebSocket surface: auth, market data,
// trading, vesting, contests, leaderboards, and the admin endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sportfolio/internal/accrual"
	"sportfolio/internal/bots"
	"sportfolio/internal/config"
	"sportfolio/internal/contest"
	"sportfolio/internal/exchange"
	"sportfolio/internal/ingest"
	"sportfolio/internal/scheduler"
	"sportfolio/internal/store"
)

type Server struct {
	cfg      *config.Config
	store    *store.Store
	exchange *exchange.Engine
	accrual  *accrual.Engine
	contests *contest.Engine
	bots     *bots.Engine
	ingest   *ingest.Service
	sched    *scheduler.Scheduler
	hub      *Hub
	log      *logrus.Logger

	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	// devUser backs DEV_BYPASS_AUTH sessions; nil otherwise.
	devUser *store.User
}

func NewServer(
	cfg *config.Config,
	st *store.Store,
	ex *exchange.Engine,
	ac *accrual.Engine,
	ce *contest.Engine,
	be *bots.Engine,
	ing *ingest.Service,
	sched *scheduler.Scheduler,
	hub *Hub,
	log *logrus.Logger,
) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		store:       st,
		exchange:    ex,
		accrual:     ac,
		contests:    ce,
		bots:        be,
		ingest:      ing,
		sched:       sched,
		hub:         hub,
		log:         log,
		rateLimiter: NewRateLimiter(300, time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkOrigin(r.Header.Get("Origin"))
		},
	}

	if cfg.DevBypassAuth {
		user, err := st.GetUserByUsername("dev")
		if err == store.ErrUserNotFound {
			user, err = st.CreateUser("dev", "dev-bypass-password")
		}
		if err != nil {
			return nil, err
		}
		s.devUser = user
	}
	return s, nil
}

func (s *Server) checkOrigin(origin string) bool {
	if len(s.cfg.CORSOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.cfg.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		// Public market data.
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/players", s.handleListPlayers)
		r.Get("/player/{id}", s.handlePlayerDetail)
		r.Get("/trades", s.handleRecentTrades)
		r.Get("/leaderboards", s.handleLeaderboards)
		r.Get("/contest/{id}/leaderboard", s.handleContestLeaderboard)

		// Authenticated.
		r.Get("/account", s.requireAuth(s.handleAccount))
		r.Get("/portfolio", s.requireAuth(s.handlePortfolio))
		r.Get("/orders", s.requireAuth(s.handleOpenOrders))
		r.Post("/orders/{playerId}", s.requireAuth(s.handlePlaceOrder))
		r.Post("/orders/{orderId}/cancel", s.requireAuth(s.handleCancelOrder))
		r.Get("/vesting", s.requireAuth(s.handleVestingStatus))
		r.Post("/vesting/start", s.requireAuth(s.handleVestingStart))
		r.Post("/vesting/claim", s.requireAuth(s.handleVestingClaim))
		r.Post("/contest/{id}/enter", s.requireAuth(s.handleContestEnter))
		r.Put("/contest/{contestId}/entry/{entryId}", s.requireAuth(s.handleContestEdit))

		// Admin.
		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", s.requireAdmin(s.handleJobList))
			r.Post("/jobs/{name}/trigger", s.requireAdmin(s.handleJobTrigger))
			r.Post("/backfill", s.requireAdmin(s.handleBackfill))
			r.Get("/bots", s.requireAdmin(s.handleBotStats))
			r.Post("/bots/trigger", s.requireAdmin(s.handleBotTrigger))
			r.Post("/premium", s.requireAdmin(s.handleGrantPremium))
			r.Post("/credit", s.requireAdmin(s.handleCreditBalance))
		})
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) Shutdown() {
	s.rateLimiter.Stop()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.WithError(err).Error("internal error")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
