package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/api/middleware"
	"github.com/pbxlink/pbxlink/internal/call"
	"github.com/pbxlink/pbxlink/internal/config"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/notify"
	"github.com/pbxlink/pbxlink/internal/recording"
)

// Deps bundles the repositories and services the HTTP layer serves.
type Deps struct {
	Users      database.UserRepository
	Servers    database.ServerRepository
	PbxUsers   database.PbxUserRepository
	Partners   database.PartnerRepository
	Calls      database.CallRepository
	Recordings database.RecordingRepository
	SysConfig  database.SystemConfigRepository

	Dispatcher *agent.Dispatcher
	Registry   *agent.CallbackRegistry
	Originator *call.Originator
	Manager    *recording.Manager
	Hub        *notify.Hub

	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	jwtSecret []byte

	users      database.UserRepository
	servers    database.ServerRepository
	pbxUsers   database.PbxUserRepository
	partners   database.PartnerRepository
	calls      database.CallRepository
	recordings database.RecordingRepository
	sysConfig  database.SystemConfigRepository

	dispatcher *agent.Dispatcher
	registry   *agent.CallbackRegistry
	originator *call.Originator
	manager    *recording.Manager
	hub        *notify.Hub
	metrics    http.Handler

	publicLimiter *middleware.IPRateLimiter
	authLimiter   *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, jwtSecret []byte, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		logger:     logger.With("subsystem", "api"),
		jwtSecret:  jwtSecret,
		users:      deps.Users,
		servers:    deps.Servers,
		pbxUsers:   deps.PbxUsers,
		partners:   deps.Partners,
		calls:      deps.Calls,
		recordings: deps.Recordings,
		sysConfig:  deps.SysConfig,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		originator: deps.Originator,
		manager:    deps.Manager,
		hub:        deps.Hub,
		metrics:    deps.Metrics,

		publicLimiter: middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter:   middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.publicLimiter.Stop()
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.CORS(s.cfg.CORSOriginList()))

	// Agent-facing endpoints. Unauthenticated apart from their own gates
	// (callback registry, security token, IP allowlist, one-shot init).
	r.Route("/pbxlink", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.publicLimiter))

		r.Post("/agent/callback", s.handleAgentCallback)
		r.Get("/agent", s.handleAgentInit)
		r.Get("/sip_peers", s.handleSIPPeers)

		r.Get("/get_caller_name", s.handleGetCallerName)
		r.Get("/get_caller_tags", s.handleGetCallerTags)
		r.Get("/get_partner_manager", s.handleGetPartnerManager)

		r.Post("/transcript/{id}", s.handleTranscriptCallback)
	})

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}

	// API routes under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Post("/auth/login", s.handleLogin)
		})

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Get("/active", s.handleListActiveCalls)
				r.Post("/originate", s.handleOriginate)
			})

			r.Route("/recordings", func(r chi.Router) {
				r.Get("/", s.handleListRecordings)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRecording)
					r.Delete("/", s.handleDeleteRecording)
					r.Get("/audio", s.handleRecordingAudio)
					r.Put("/keep", s.handleKeepRecording)
					r.Post("/transcript", s.handleRequestTranscript)
				})
			})

			r.Route("/servers", func(r chi.Router) {
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetServer)
					r.Put("/", s.handleUpdateServer)
					r.Post("/ping", s.handlePingServer)
					r.Post("/ami-ping", s.handleAMIPingServer)
					r.Post("/command", s.handleServerCommand)
				})
			})

			r.Route("/pbx-users", func(r chi.Router) {
				r.Get("/", s.handleListPbxUsers)
				r.Post("/", s.handleCreatePbxUser)
				r.Post("/auto-create", s.handleAutoCreatePbxUsers)
				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", s.handleUpdatePbxUser)
					r.Delete("/", s.handleDeletePbxUser)
				})
			})

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Get("/notify/ws", s.handleNotifyWS)
		})
	})

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotifyWS upgrades the connection to a websocket bound to the
// authenticated user.
func (s *Server) handleNotifyWS(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UserIDFromContext(r.Context())
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	s.hub.ServeWS(w, r, uid)
}
