package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
	"github.com/strandlabs/strand/internal/domain/tool"
	"github.com/strandlabs/strand/internal/infrastructure/eventbus"
	"github.com/strandlabs/strand/internal/interfaces/http/handlers"
	"github.com/strandlabs/strand/internal/interfaces/http/middleware"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Deps collects everything the route handlers need.
type Deps struct {
	Orchestrator *service.Orchestrator
	Builder      *service.ContextBuilder
	Validator    *service.SchemaValidator
	Router       *service.Router
	StateMachine *service.RunStateMachine
	Keys         *service.KeyService
	Cancels      service.CancelStore
	Bus          *eventbus.Bus
	Mirror       *eventbus.StreamMirror
	Tools        *tool.Registry

	Assistants   repository.AssistantRepository
	Threads      repository.ThreadRepository
	Messages     repository.MessageRepository
	Runs         repository.RunRepository
	Actions      repository.ActionRepository
	APIKeys      repository.APIKeyRepository
	ToolRecords  repository.ToolRepository
	VectorStores repository.VectorStoreRepository
	Files        repository.FileRepository
}

// NewServer builds the router and wires all endpoints.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "production" || cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	completionHandler := handlers.NewCompletionHandler(deps.Orchestrator, deps.Builder, deps.Threads, deps.Messages, deps.Runs, logger)
	runHandler := handlers.NewRunHandler(deps.Runs, deps.StateMachine, deps.Cancels, deps.Bus, deps.Mirror, logger)
	assistantHandler := handlers.NewAssistantHandler(deps.Assistants, deps.Builder, deps.Validator, logger)
	threadHandler := handlers.NewThreadHandler(deps.Threads, deps.Messages, deps.Builder, logger)
	actionHandler := handlers.NewActionHandler(deps.Actions, deps.Runs, deps.Router, deps.Orchestrator, logger)
	keyHandler := handlers.NewAPIKeyHandler(deps.Keys, deps.APIKeys, logger)
	toolHandler := handlers.NewToolHandler(deps.ToolRecords, deps.Tools, logger)
	storeHandler := handlers.NewVectorStoreHandler(deps.VectorStores, logger)
	fileHandler := handlers.NewFileHandler(deps.Files, logger)

	setupRoutes(router, deps, completionHandler, runHandler, assistantHandler, threadHandler, actionHandler, keyHandler, toolHandler, storeHandler, fileHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{server: server, logger: logger}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(
	router *gin.Engine,
	deps Deps,
	completionHandler *handlers.CompletionHandler,
	runHandler *handlers.RunHandler,
	assistantHandler *handlers.AssistantHandler,
	threadHandler *handlers.ThreadHandler,
	actionHandler *handlers.ActionHandler,
	keyHandler *handlers.APIKeyHandler,
	toolHandler *handlers.ToolHandler,
	storeHandler *handlers.VectorStoreHandler,
	fileHandler *handlers.FileHandler,
	logger *zap.Logger,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.Keys, logger))
	{
		v1.POST("/completions", completionHandler.Create)

		v1.POST("/assistants", assistantHandler.Create)
		v1.GET("/assistants", assistantHandler.List)
		v1.GET("/assistants/:id", assistantHandler.Get)
		v1.PATCH("/assistants/:id", assistantHandler.Update)
		v1.DELETE("/assistants/:id", assistantHandler.Delete)

		v1.POST("/threads", threadHandler.Create)
		v1.GET("/threads/:id", threadHandler.Get)
		v1.DELETE("/threads/:id", threadHandler.Delete)
		v1.POST("/threads/:id/messages", threadHandler.CreateMessage)
		v1.GET("/threads/:id/messages", threadHandler.ListMessages)
		v1.GET("/threads/:id/runs", runHandler.ListByThread)

		v1.GET("/messages/:id", threadHandler.GetMessage)
		v1.DELETE("/messages/:id", threadHandler.DeleteMessage)
		v1.POST("/messages/tools", actionHandler.SubmitOutput)

		v1.GET("/runs/:id", runHandler.Get)
		v1.POST("/runs/:id/cancel", runHandler.Cancel)
		v1.GET("/runs/:id/events", runHandler.Events)
		v1.GET("/runs/:id/actions", actionHandler.ListPending)

		v1.GET("/actions/:id", actionHandler.Get)

		v1.POST("/api-keys", keyHandler.Create)
		v1.GET("/api-keys", keyHandler.List)
		v1.DELETE("/api-keys/:prefix", keyHandler.Revoke)

		v1.POST("/tools", toolHandler.Create)
		v1.GET("/tools", toolHandler.List)
		v1.GET("/tools/:name", toolHandler.Get)
		v1.DELETE("/tools/:name", toolHandler.Delete)

		v1.POST("/vector-stores", storeHandler.Create)
		v1.GET("/vector-stores", storeHandler.List)
		v1.GET("/vector-stores/:id", storeHandler.Get)
		v1.PATCH("/vector-stores/:id", storeHandler.Update)
		v1.DELETE("/vector-stores/:id", storeHandler.Delete)

		v1.POST("/files", fileHandler.Create)
		v1.GET("/files", fileHandler.List)
		v1.GET("/files/:id", fileHandler.Get)
		v1.DELETE("/files/:id", fileHandler.Delete)
	}
}

// ginLogger logs each request through zap.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
