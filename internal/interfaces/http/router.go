// Package http wires the gin engine: CORS, the security pipeline, operational
// endpoints and the gate's own API.
package http

import (
	"context"
	goerrors "errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/interfaces/http/handlers"
	"github.com/turtacn/accessgate/internal/interfaces/http/middleware"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by the router.
type Handlers struct {
	Health   *handlers.HealthHandler
	Auth     *handlers.AuthHandler
	Security *handlers.SecurityHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	config   *config.Config
	logger   logger.Logger
	security *middleware.SecurityMiddleware
	handlers Handlers
	gatherer prometheus.Gatherer
	server   *http.Server
}

// NewRouter 创建路由器
// gatherer backs the metrics endpoint; nil uses the default registry.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	security *middleware.SecurityMiddleware,
	h Handlers,
	gatherer prometheus.Gatherer,
) *Router {
	// 设置 Gin 模式
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := &Router{
		engine:   gin.New(),
		config:   cfg,
		logger:   log.WithComponent("http_router"),
		security: security,
		handlers: h,
		gatherer: gatherer,
	}
	r.SetupRoutes()
	r.server = &http.Server{
		Addr:           cfg.Server.Addr(),
		Handler:        r.engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return r
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	// CORS 预检请求在安全管道之前应答
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", constants.HeaderAuthorization, constants.HeaderRequestID, r.serviceKeyHeader()},
		ExposeHeaders:    []string{constants.HeaderRequestID, constants.HeaderRateLimitLimit, constants.HeaderRateLimitRemaining, constants.HeaderRetryAfter},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origins := r.config.Server.AllowedOrigins; len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowCredentials = false
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	r.engine.Use(cors.New(corsConfig))
	r.engine.Use(r.security.Handler())

	// 健康检查路由（策略中声明为公开）
	if h := r.handlers.Health; h != nil {
		r.engine.GET("/health", h.HealthCheck)
		r.engine.GET("/api/health", h.HealthCheck)
		r.engine.GET("/ready", h.ReadinessCheck)
		r.engine.GET("/live", h.LivenessCheck)
	}

	// Prometheus metrics
	if r.config.Monitoring.MetricsEnabled {
		path := r.config.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	// Pprof 性能分析
	if r.config.Monitoring.PprofEnabled {
		pprof.Register(r.engine)
	}

	api := r.engine.Group("/api")
	if h := r.handlers.Auth; h != nil {
		auth := api.Group("/auth")
		{
			auth.POST("/token", h.IssueToken)
			auth.POST("/refresh", h.RefreshToken)
			auth.POST("/revoke", h.RevokeToken)
			auth.POST("/logout-all", h.LogoutAll)
			auth.POST("/introspect", h.IntrospectToken)
		}
	}
	if h := r.handlers.Security; h != nil {
		sec := api.Group("/security/rate-limit")
		{
			sec.GET("/status", h.RateLimitStatus)
			sec.GET("/metrics", h.RateLimitMetrics)
			sec.POST("/rules", h.AddRateLimitRule)
		}
	}

	// 404 处理；未知路径同样先经过安全管道
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

func (r *Router) serviceKeyHeader() string {
	if h := r.config.Security.ServiceKeyHeader; h != "" {
		return h
	}
	return constants.HeaderServiceKey
}

// Start 启动 HTTP 服务器，阻塞直到服务器关闭
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine, e.g. for httptest.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

//Personal.AI order the ending
