package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arinova/hubd/config"
	"github.com/arinova/hubd/server/handlers"
	"github.com/arinova/hubd/services"
	"github.com/arinova/hubd/store"
)

// ReadTimeout bounds how long the HTTP server waits to finish reading
// a request; WriteTimeout is left at zero because the /ws upgrade and
// the marketplace long-poll both need to hold the connection open far
// longer than any ordinary REST call.
const ReadTimeout = 30 * time.Second

// Server assembles every hub component behind one chi router: the
// WebSocket fabrics, the health/metrics operability surface, and the
// marketplace REST entry point.
type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	store  *store.Store
}

// New wires the full component graph: connection registry, stream
// registry, agent-task router, billing engine, stream orchestrator,
// sync/recovery; behind the router: middleware first, then health,
// the WebSocket upgrade endpoints, and the authenticated REST routes.
func New(cfg *config.Config, st *store.Store, rdb *redis.Client, log *slog.Logger) *Server {
	conversations := services.NewConversationService(st)
	messages := services.NewMessageService(st)

	conns := NewConnRegistry()
	tasks := NewAgentTaskRouter(cfg.Server.StreamIdleTimeout)
	streams := NewStreamRegistry()
	cache := NewStreamCache(rdb)
	pending := NewPendingEventQueue(rdb)
	memberCache := NewMemberCache(conversations)
	broadcaster := NewBroadcaster(memberCache, conversations, conns, pending)
	billing := NewBillingEngine(st, cfg.Billing.CreatorShareNumerator, cfg.Billing.CreatorShareDenominator)
	orchestrator := NewStreamOrchestrator(st, messages, conversations, conns, tasks, streams, cache, pending, broadcaster, log)
	sync := NewSyncRecovery(conversations, messages, cache, streams, pending, conns, log)

	ratelimit := NewRateLimiter(rdb, sendMessageLimit, sendMessageWindow)
	wsHandler := NewWSHandler(cfg, st, conversations, messages, conns, orchestrator, tasks, sync, broadcaster, ratelimit, log)
	marketplaceHandler := NewMarketplaceHandler(conversations, messages, orchestrator, billing, log)
	healthHandler := handlers.NewHealthHandler(handlers.HealthHandlerConfig{
		DBPing:    func(ctx context.Context) error { return st.Pool().Ping(ctx) },
		RedisPing: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	router := chi.NewRouter()
	router.Use(Recovery(log))
	router.Use(Logger(log))
	router.Use(CORS(cfg.Server.AllowedOrigins))

	router.Get("/health", healthHandler.Readiness)
	router.Get("/health/ready", healthHandler.Readiness)
	router.Get("/health/live", healthHandler.Liveness)
	router.Get("/health/full", healthHandler.Health)
	router.Handle("/metrics", promhttp.Handler())

	// The user fabric needs the gateway identity before upgrade; the
	// agent fabric authenticates in-band with its first frame.
	router.With(Auth).Get("/ws", wsHandler.ServeUser)
	router.Get("/ws/agent", wsHandler.ServeAgent)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth)
		r.Post("/marketplace/conversations/{id}/messages", marketplaceHandler.Create)
	})

	return &Server{cfg: cfg, router: router, store: st}
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: 0,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}
