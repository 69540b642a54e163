package receiver

import (
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/framegate/internal/auth"
	"github.com/danmuck/framegate/internal/node"
	"github.com/danmuck/framegate/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var _ node.Node = (*Service)(nil)

func (s *Service) NodeID() string {
	return s.cfg.NodeID
}

func (s *Service) Kind() string {
	return "receiver"
}

// HTTPRouter serves /health, /status and /metrics. When AdminToken is set,
// /status and /metrics require it as a bearer token.
func (s *Service) HTTPRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger.With().Str("component", "admin").Logger()))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	if len(s.cfg.AdminCORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AdminCORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"node":        s.cfg.NodeID,
			"listen_addr": s.listenAddr.Load(),
		})
	})

	private := r.Group("/")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		private.Use(auth.RequireBearer(auth.StaticToken{Token: token}))
	}
	private.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})
	private.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
