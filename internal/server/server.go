package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditgate/internal/observability/tracing"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/smallbiznis/creditgate/internal/session"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultHTTPAddr = ":8080"
	shutdownTimeout = 10 * time.Second
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP binds the engine to cfg.HTTPAddr for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(s.cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	quotaSvc      quotadomain.Service
	apiKeySvc     apikeydomain.Service
	sessionSvc    sessiondomain.Service
	sessions      *session.Manager
	subscriptions subscriptiondomain.Service
	ingress       *ratelimit.IngressLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	QuotaSvc      quotadomain.Service
	APIKeySvc     apikeydomain.Service
	SessionSvc    sessiondomain.Service
	Sessions      *session.Manager
	Subscriptions subscriptiondomain.Service
	Ingress       *ratelimit.IngressLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		quotaSvc:      p.QuotaSvc,
		apiKeySvc:     p.APIKeySvc,
		sessionSvc:    p.SessionSvc,
		sessions:      p.Sessions,
		subscriptions: p.Subscriptions,
		ingress:       p.Ingress,
	}
	svc.RegisterRoutes()
	return svc
}

func (s *Server) RegisterRoutes() {
	internal := s.engine.Group("/internal")
	internal.Use(s.InternalAPIKeyRequired())

	workspace := internal.Group("/workspace")
	workspace.Use(s.APIKeyRequired(), s.IngressRateLimit())
	{
		workspace.POST("/usage/validate", s.ValidateUsage)
		workspace.POST("/usage/commit", s.CommitUsage)
		workspace.GET("/quota", s.GetQuota)
	}

	user := internal.Group("/user")
	user.Use(s.SessionRequired(), s.IngressRateLimit())
	{
		user.POST("/usage/validate", s.ValidateUsage)
		user.POST("/usage/commit", s.CommitUsage)
		user.GET("/quota", s.GetQuota)
		user.DELETE("/session", s.RevokeSession)
	}

	subscriptions := internal.Group("/subscriptions/:tenant_type/:tenant_id")
	{
		subscriptions.PUT("", s.ActivateSubscription)
		subscriptions.POST("/freeze", s.FreezeSubscription)
		subscriptions.POST("/unfreeze", s.UnfreezeSubscription)
		subscriptions.POST("/cancel", s.CancelSubscription)
	}

	apiKeys := internal.Group("/workspaces/:workspace_id/api-keys")
	{
		apiKeys.POST("", s.CreateAPIKey)
		apiKeys.GET("", s.ListAPIKeys)
		apiKeys.DELETE("/:id", s.RevokeAPIKey)
	}

	internal.POST("/users/:user_id/sessions", s.CreateSession)
}
