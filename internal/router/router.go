package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/evv-api/internal/handler"
	"github.com/jwalitptl/evv-api/internal/middleware"
	"github.com/jwalitptl/evv-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine     *gin.Engine
	auth       *middleware.AuthMiddleware
	ops        *handler.Handler
	visitH     Handler
	claimH     Handler
	dashboardH Handler
	limiter    *middleware.RateLimiter
	metrics    *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	Mode           string
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration
	MaxBodySize    int64
	CORSConfig     middleware.CORSConfig
	MetricsPrefix  string
	Registerer     prometheus.Registerer
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	ops *handler.Handler,
	visitH Handler,
	claimH Handler,
	dashboardH Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultMaxBodySize
	}

	engine := gin.New()

	r := &Router{
		engine:     engine,
		auth:       auth,
		ops:        ops,
		visitH:     visitH,
		claimH:     claimH,
		dashboardH: dashboardH,
		limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		}),
		metrics: initRouterMetrics(config.MetricsPrefix, config.Registerer),
	}

	// RequestID first so every later middleware logs with it.
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.CORS(config.CORSConfig),
		middleware.Timeout(config.RequestTimeout),
		middleware.SizeLimit(config.MaxBodySize),
	)

	r.setup()
	return r
}

func (r *Router) setup() {
	r.ops.RegisterRoutes(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})
	api.Use(r.auth.Authenticate(), r.limiter.RateLimit())

	r.visitH.RegisterRoutes(api)

	orgs := api.Group("/organizations/:orgId")
	{
		claims := orgs.Group("")
		claims.Use(r.auth.RequireRole(model.RoleAdmin, model.RoleBiller, model.RoleSystem))
		r.claimH.RegisterRoutes(claims)

		dashboard := orgs.Group("")
		dashboard.Use(r.auth.RequireRole(model.RoleAdmin, model.RoleCoordinator, model.RoleBiller, model.RoleSystem))
		r.dashboardH.RegisterRoutes(dashboard)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string, reg prometheus.Registerer) *routerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &routerMetrics{
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Unmatched routes share one label to keep cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
