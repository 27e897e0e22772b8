package api

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/breaker"
	"github.com/vigil-ops/vigil/internal/health"
	"github.com/vigil-ops/vigil/internal/incident"
	"github.com/vigil-ops/vigil/internal/scaling"
	"github.com/vigil-ops/vigil/pkg/logging"
	"github.com/vigil-ops/vigil/pkg/metrics"
)

// BreakerStateReader reads breaker states shared by sibling instances.
type BreakerStateReader interface {
	GetBreakerState(ctx context.Context, name string) (string, error)
}

// Deps are the subsystems the HTTP surface exposes.
type Deps struct {
	Breakers  *breaker.Factory
	Alerts    *alerting.Engine
	Incidents *incident.Manager
	Scaling   *scaling.Manager
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Version   string

	// States is nil when no cache is configured.
	States BreakerStateReader
}

// NewRouter assembles the gin engine with middleware and all routes.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(Recovery(deps.Logger))
	router.Use(RequestID())
	router.Use(RequestLogging(deps.Logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
	}))

	h := &handlers{deps: deps}

	router.GET("/health", h.getHealth)
	router.GET("/health/live", h.getLive)
	router.GET("/health/ready", h.getReady)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/breakers", h.listBreakers)
		v1.POST("/breakers/:name/reset", h.resetBreaker)

		v1.GET("/alerts", h.listAlerts)
		v1.POST("/alerts", h.createAlert)
		v1.POST("/alerts/:id/acknowledge", h.acknowledgeAlert)
		v1.POST("/alerts/:id/resolve", h.resolveAlert)

		v1.GET("/incidents", h.listIncidents)
		v1.POST("/incidents", h.createIncident)
		v1.POST("/incidents/:id/acknowledge", h.acknowledgeIncident)
		v1.PUT("/incidents/:id/status", h.updateIncidentStatus)
		v1.POST("/incidents/:id/escalate", h.escalateIncident)

		v1.GET("/scaling/status", h.getScalingStatus)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
