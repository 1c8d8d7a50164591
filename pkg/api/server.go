// Package api exposes the simulation over HTTP and websocket. Handlers
// stay thin: parse the request, call one service method, map the error,
// encode the response. All domain rules live in pkg/services.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worldloom/loom/pkg/database"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/services"
)

// Server wires the HTTP routes to the service layer.
type Server struct {
	db       *database.Client
	events   *events.Manager
	sessions *services.SessionService
	branches *services.BranchService
	timeline *services.TimelineService
	provider *services.ProviderService
	sim      *services.Simulation
	debug    *services.DebugService

	corsOrigins []string
}

// NewServer creates the API server over the given collaborators.
// corsOrigins is the comma-split CORS_ORIGINS list; "*" allows any
// origin for both CORS and websocket upgrades.
func NewServer(
	db *database.Client,
	eventManager *events.Manager,
	sessions *services.SessionService,
	branches *services.BranchService,
	timeline *services.TimelineService,
	provider *services.ProviderService,
	sim *services.Simulation,
	debug *services.DebugService,
	corsOrigins []string,
) *Server {
	return &Server{
		db:          db,
		events:      eventManager,
		sessions:    sessions,
		branches:    branches,
		timeline:    timeline,
		provider:    provider,
		sim:         sim,
		debug:       debug,
		corsOrigins: corsOrigins,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders(), corsMiddleware(s.corsOrigins))

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/:session_id", s.handleWebsocket)

	api := engine.Group("/api")

	api.POST("/session/create", s.createSession)
	api.GET("/session/history", s.sessionHistory)
	api.GET("/session/:id", s.getSession)
	api.POST("/session/:id/start", s.startSession)
	api.POST("/session/:id/pause", s.pauseSession)
	api.POST("/session/:id/resume", s.resumeSession)
	api.PATCH("/session/:id/settings", s.updateSessionSettings)

	api.POST("/provider/:id/set", s.setProvider)
	api.GET("/provider/:id/models", s.listProviderModels)
	api.POST("/provider/:id/select-model", s.selectModel)
	api.GET("/provider/:id/current", s.currentProvider)

	api.GET("/branch/:id", s.listBranches)
	api.POST("/branch/:id/fork", s.forkBranch)
	api.POST("/branch/:id/switch", s.switchBranch)

	api.GET("/timeline/:id", s.getTimeline)
	api.DELETE("/message/:id/last", s.deleteLastMessage)
	api.PATCH("/message/:id/:message_id", s.editMessage)
	api.POST("/intervention/:id", s.createIntervention)

	api.GET("/debug/settings", s.getDebugSettings)
	api.PATCH("/debug/settings", s.patchDebugSettings)

	return engine
}
