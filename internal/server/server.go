package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/quotaplane/quotaplane/internal/audit"
	auditsqlite "github.com/quotaplane/quotaplane/internal/audit/sqlite"
	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/cache"
	"github.com/quotaplane/quotaplane/internal/config"
	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/limiter"
	"github.com/quotaplane/quotaplane/internal/metrics"
	"github.com/quotaplane/quotaplane/internal/middleware"
	"github.com/quotaplane/quotaplane/internal/plan"
	"github.com/quotaplane/quotaplane/internal/policy"
	"github.com/quotaplane/quotaplane/internal/quota"
	"github.com/quotaplane/quotaplane/internal/reliability"
	"github.com/quotaplane/quotaplane/internal/repository/memory"
	"github.com/quotaplane/quotaplane/internal/service"
	"github.com/quotaplane/quotaplane/internal/store"
)

// defaultPlans seeds the catalog when the counter store has no plan
// hashes yet. Limits are per UTC day / calendar month; zero means
// unlimited.
var defaultPlans = []plan.Plan{
	{ID: "free", Name: "Free", DailyLimit: 100, MonthlyLimit: 1000},
	{ID: "pro", Name: "Pro", DailyLimit: 10000, MonthlyLimit: 100000},
	{ID: "enterprise", Name: "Enterprise", DailyLimit: 0, MonthlyLimit: 0},
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux

	redisClient *redis.Client
	counters    *store.RedisClient
	plans       *plan.Catalog
	keys        *service.KeyService
	jwts        *auth.JWTManager
	global      *limiter.Global
	enforcer    *quota.Enforcer
	metrics     *metrics.Collector
	routes      policy.Routes

	recorder   audit.Recorder
	auditStore *auditsqlite.Store
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	counters := store.NewRedisClient(rdb)

	catalog := plan.NewCatalog()
	catalog.Replace(defaultPlans)

	planIDs := make([]string, 0, len(defaultPlans))
	for _, p := range defaultPlans {
		planIDs = append(planIDs, p.ID)
	}
	refreshCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := catalog.Refresh(refreshCtx, plan.NewStoreSource(counters, planIDs)); err != nil {
		logger.Warn("plan refresh from counter store failed, using built-in plans", "error", err)
	}

	repo := memory.New()
	keys := service.NewKeyService(repo, cache.NewMemoryCache())

	jwts := auth.NewJWTManager(cfg.JWT.Secret, time.Duration(cfg.JWT.TTL)*time.Hour)

	enforcer := quota.NewEnforcer(counters, catalog, quota.Options{
		EnforceMonthly: cfg.Quota.Monthly,
		Atomic:         cfg.Quota.Atomic,
	}, logger)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      chi.NewRouter(),
		redisClient: rdb,
		counters:    counters,
		plans:       catalog,
		keys:        keys,
		jwts:        jwts,
		global:      limiter.NewGlobal(cfg.Limits.Rate, cfg.Limits.Burst),
		enforcer:    enforcer,
		metrics:     metrics.NewCollector(1000),
		routes: policy.Routes{
			SecuredPrefix: cfg.Routes.Secured,
			MeteredPrefix: cfg.Routes.Metered,
		},
	}

	switch cfg.Audit.Sink {
	case "sqlite":
		as, err := auditsqlite.New(cfg.Audit.DB)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		s.auditStore = as
		s.recorder = as
	default:
		s.recorder = audit.NewJSONRecorder(os.Stdout)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	// Ops endpoints stay outside the interceptor pipeline.
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	s.router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.counters.Ping(ctx); err != nil {
			httpx.Error(w, http.StatusServiceUnavailable, "counter store unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, s.metrics.GetStats())
	})

	if !s.cfg.Production() {
		s.router.Post("/dev/token", s.DevTokenHandler)
	}

	s.router.Route("/api", func(api chi.Router) {
		api.Use(s.pipeline().Then)

		api.Post("/v1/check", s.CheckHandler)

		api.Route("/dashboard", func(dash chi.Router) {
			dash.Post("/keys", s.IssueKeyHandler)
			dash.Get("/keys", s.ListKeysHandler)
			dash.Delete("/keys/{keyID}", s.RevokeKeyHandler)
			dash.Post("/keys/rotate", s.RotateKeyHandler)
			if s.auditStore != nil {
				dash.Get("/audit", s.ListAuditHandler)
			}
		})
	})
}

// pipeline assembles the interceptor stages, outermost first. With
// Audit.Rejections the capture stage moves ahead of the limiters so
// 401/429 responses are recorded too; either way exactly one stage
// captures.
func (s *Server) pipeline() *middleware.Pipeline {
	strategy := reliability.FailClosed
	if s.cfg.Quota.Failopen {
		strategy = reliability.FailOpen
	}

	capture := middleware.CaptureAudit(s.recorder, s.logger)

	p := middleware.NewPipeline(middleware.CollectMetrics(s.metrics))
	if s.cfg.Audit.Rejections {
		p.Append(capture)
	}
	p.Append(
		middleware.GlobalRateLimit(s.global),
		middleware.ExtractCredentials(s.jwts),
		middleware.RequireUser(s.routes),
		middleware.RequireAPIKey(s.keys, s.routes),
		middleware.EnforceQuota(s.enforcer, s.routes, strategy, s.logger),
	)
	if !s.cfg.Audit.Rejections {
		p.Append(capture)
	}
	return p
}

// CheckHandler is the demo metered endpoint; by the time it runs the
// key has been verified and the quota charged.
func (s *Server) CheckHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.KeyClaimsFrom(r.Context())
	if err != nil || claims == nil {
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"user_id": claims.UserID,
		"plan_id": claims.PlanID,
	})
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "port", s.cfg.Server.Port, "environment", s.cfg.Environment)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("shutdown started", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return s.close()
}

func (s *Server) close() error {
	if s.auditStore != nil {
		if err := s.auditStore.Close(); err != nil {
			s.logger.Error("closing audit store", "error", err)
		}
	}
	return s.redisClient.Close()
}
