package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/middleware"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/internal/store"
	"github.com/handauncle/hubot-relay/pkg/logger"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	UploadMaxBytes     int64
}

// Deps are the services the router dispatches to.
type Deps struct {
	Messages      *service.MessageService
	Conversations *service.ConversationService
	Cleanup       *service.CleanupService
	KnowledgeBase *service.TextBlob
	SystemPrompt  *service.TextBlob
	Store         store.Store
	Resolver      identity.Resolver
	Logger        *logger.Logger
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Deps, cfg RouterConfig) http.Handler {
	log := deps.Logger
	resolver := deps.Resolver
	if resolver == nil {
		resolver = identity.Disabled{}
	}

	healthHandler := NewHealthHandler(deps.Store)
	messageHandler := NewMessageHandler(deps.Messages, cfg.UploadMaxBytes, log)
	conversationHandler := NewConversationHandler(deps.Conversations, log)
	adminHandler := NewAdminHandler(deps.Cleanup, log)
	kbHandler := NewTextBlobHandler(deps.KnowledgeBase, "knowledgeBase", "Knowledge base", cfg.UploadMaxBytes, log)
	systemHandler := NewTextBlobHandler(deps.SystemPrompt, "systemPrompt", "System prompt", cfg.UploadMaxBytes, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no identity)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Logging(log))
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logging(log))
		r.Use(middleware.Identity(resolver, log))

		r.Route("/hubot", func(r chi.Router) {
			limited := r
			if cfg.RateLimitRequests > 0 {
				limited = r.With(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			}
			limited.Post("/message", messageHandler.Send)

			r.Post("/kb", kbHandler.Set)
			r.Post("/add-kb", kbHandler.Append)
			r.Post("/kb-upload", kbHandler.SetUpload)
			r.Post("/add-kb-upload", kbHandler.AppendUpload)
			r.Get("/show-kb", kbHandler.Show)

			r.Post("/system", systemHandler.Set)
			r.Post("/add-system", systemHandler.Append)
			r.Post("/system-upload", systemHandler.SetUpload)
			r.Post("/add-system-upload", systemHandler.AppendUpload)
			r.Get("/show-system", systemHandler.Show)
		})

		r.Get("/get-conversation", conversationHandler.GetOwn)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity)
			r.Get("/get-conversation/{email}", conversationHandler.GetByEmail)
			r.Get("/get-all-users", conversationHandler.ListUsers)
			r.Post("/admin/cleanup-database", adminHandler.Cleanup)
		})

		// Retired endpoints
		r.HandleFunc("/save-query", Gone("/hubot/message"))
		r.HandleFunc("/get-queries", Gone("/get-conversation"))
		r.HandleFunc("/get-queries/{email}", Gone("/get-conversation/{email}"))
	})

	healthHandler.endpoints = listEndpoints(r)
	return r
}

// listEndpoints renders the registered routes. Routes answering every
// method are shown with "*".
func listEndpoints(r chi.Routes) []string {
	methods := make(map[string]map[string]struct{})
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if methods[route] == nil {
			methods[route] = make(map[string]struct{})
		}
		methods[route][method] = struct{}{}
		return nil
	})

	var out []string
	for route, set := range methods {
		if len(set) > 2 {
			out = append(out, "* "+route)
			continue
		}
		for method := range set {
			out = append(out, method+" "+route)
		}
	}
	sort.Strings(out)
	return out
}
