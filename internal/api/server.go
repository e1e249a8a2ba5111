// Package api is the HTTP+JSON control surface: a thin gin layer over the
// state store and runtime adapter. It never holds state of its own.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/healctl/healctl/internal/metrics"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

// Notifier is the slice of the notification dispatcher the control surface
// fires maintenance transitions and manual restarts at, best effort.
type Notifier interface {
	Notify(store.Event)
}

// Deps bundles everything a handler needs. Handlers never reach past this
// contract into scheduler or store internals.
type Deps struct {
	Store    *store.Store
	Adapter  runtime.Adapter
	Metrics  *metrics.Collector
	Notifier Notifier
	Log      *slog.Logger
}

// NewRouter builds the gin engine: recovery, structured request logging,
// open CORS (this project does no authentication), then every route group.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sloggin.NewWithConfig(deps.Log, sloggin.Config{
		Filters: []sloggin.Filter{
			func(c *gin.Context) bool {
				return c.Request.URL.Path != "/api/events/stream"
			},
		},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promHandler(deps.Metrics)))
	}

	h := &handlers{deps: deps}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/containers", h.listContainers)
		apiGroup.GET("/containers/:id", h.getContainer)
		apiGroup.POST("/containers/select", h.selectContainers)
		apiGroup.POST("/containers/exclude", h.excludeContainers)
		apiGroup.POST("/containers/:id/unquarantine", h.unquarantine)
		apiGroup.POST("/containers/:id/restart", h.manualRestart)

		apiGroup.GET("/config", h.getConfig)
		apiGroup.PUT("/config", h.putConfig)
		apiGroup.GET("/config/:group", h.getConfigGroup)
		apiGroup.PUT("/config/:group", h.putConfigGroup)
		apiGroup.GET("/config/export", h.exportConfig)
		apiGroup.POST("/config/import", h.importConfig)

		apiGroup.GET("/probes/:id", h.getProbe)
		apiGroup.POST("/probes/:id", h.putProbe)
		apiGroup.DELETE("/probes/:id", h.deleteProbe)

		apiGroup.GET("/maintenance", h.getMaintenance)
		apiGroup.POST("/maintenance", h.postMaintenance)

		apiGroup.GET("/events", h.listEvents)
		apiGroup.POST("/events", h.appendEvent)
		apiGroup.DELETE("/events", h.clearEvents)
		apiGroup.GET("/events/stream", h.streamEvents)
	}

	return router
}

type handlers struct {
	deps Deps
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"success": false, "data": gin.H{"error": err.Error()}})
}

const defaultRestartTimeout = 30 * time.Second
