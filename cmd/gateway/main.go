package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/service"
	"github.com/strandlabs/strand/internal/domain/tool"
	"github.com/strandlabs/strand/internal/infrastructure/cache"
	"github.com/strandlabs/strand/internal/infrastructure/config"
	"github.com/strandlabs/strand/internal/infrastructure/eventbus"
	"github.com/strandlabs/strand/internal/infrastructure/llm"
	"github.com/strandlabs/strand/internal/infrastructure/logger"
	"github.com/strandlabs/strand/internal/infrastructure/persistence"
	itool "github.com/strandlabs/strand/internal/infrastructure/tool"
	httpserver "github.com/strandlabs/strand/internal/interfaces/http"
	"github.com/strandlabs/strand/pkg/safego"
)

const (
	appName    = "strand"
	appVersion = "0.1.0"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Multi-tenant LLM inference gateway",
		Version: appVersion,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE // bare invocation serves

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate() error {
	log, err := logger.New(logger.Config{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return err
	}
	defer log.Sync()

	loader, err := config.Load(configPath, log)
	if err != nil {
		return err
	}
	cfg := loader.Config()

	if _, err := persistence.Connect(cfg.Database); err != nil {
		return err
	}
	log.Info("Schema migrated", zap.String("type", cfg.Database.Type))
	return nil
}

func runServe() error {
	// Bootstrap logger until the config is loaded.
	bootLog, err := logger.New(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	loader, err := config.Load(configPath, bootLog)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting gateway",
		zap.String("name", appName),
		zap.String("version", appVersion),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	db, err := persistence.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rdb, err := cache.Connect(ctx, cfg.Redis.CacheConfig())
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	assistants := persistence.NewGormAssistantRepository(db)
	threads := persistence.NewGormThreadRepository(db)
	messages := persistence.NewGormMessageRepository(db)
	runs := persistence.NewGormRunRepository(db)
	actions := persistence.NewGormActionRepository(db)
	apiKeys := persistence.NewGormAPIKeyRepository(db)
	toolRecords := persistence.NewGormToolRepository(db)
	vectorStores := persistence.NewGormVectorStoreRepository(db)
	files := persistence.NewGormFileRepository(db)

	// Caches and streaming plumbing.
	assistantCache := cache.NewAssistantCache(rdb, log)
	historyCache := cache.NewHistoryCache(rdb, log)
	webCache := cache.NewWebCache(rdb, log)
	cancels := cache.NewCancelFlags(rdb, log)
	mirror := eventbus.NewStreamMirror(rdb, log)
	bus := eventbus.NewBus(mirror, log)

	// Domain services.
	builder := service.NewContextBuilder(assistants, messages, assistantCache, historyCache, service.ContextBuilderConfig{}, log)
	factory := llm.NewFactory(cfg.Providers, log)

	registry := tool.NewRegistry()
	registerTools(registry, cfg.Workers, webCache, builder, log)

	router := service.NewRouter(registry, actions, messages, historyCache, service.RouterConfig{
		ActionTTL:        cfg.Router.ActionTTL,
		ToolTimeout:      cfg.Router.ToolTimeout,
		MaxOutputChars:   cfg.Router.MaxOutputChars,
		SurfaceTraceback: cfg.Router.SurfaceTraceback,
	}, log)

	sm := service.NewRunStateMachine(runs, log)
	orchestrator := service.NewOrchestrator(builder, factory, router, sm, runs, messages, bus, cancels, orchestratorConfig(cfg.Orchestrator), log)
	keys := service.NewKeyService(apiKeys, log)

	// Hot reload applies the run-loop tunables to new runs.
	loader.OnReload(func(c *config.Config) {
		orchestrator.UpdateConfig(orchestratorConfig(c.Orchestrator))
	})
	loader.Watch()

	// Expiry sweeper for consumer actions.
	sweeper := service.NewSweeper(actions, runs, sm, bus, cfg.Router.SweepInterval, log)
	safego.GoCtx(ctx, log, "action-sweeper", sweeper.Run)

	server := httpserver.NewServer(
		httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port, Mode: cfg.Server.Mode},
		httpserver.Deps{
			Orchestrator: orchestrator,
			Builder:      builder,
			Validator:    router.Validator(),
			Router:       router,
			StateMachine: sm,
			Keys:         keys,
			Cancels:      cancels,
			Bus:          bus,
			Mirror:       mirror,
			Tools:        registry,
			Assistants:   assistants,
			Threads:      threads,
			Messages:     messages,
			Runs:         runs,
			Actions:      actions,
			APIKeys:      apiKeys,
			ToolRecords:  toolRecords,
			VectorStores: vectorStores,
			Files:        files,
		},
		log,
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	log.Info("Gateway stopped")
	return nil
}

// registerTools wires every platform tool that has a configured worker.
func registerTools(registry *tool.Registry, workers config.WorkersConfig, webCache *cache.WebCache, builder *service.ContextBuilder, log *zap.Logger) {
	register := func(h tool.Handler) {
		if err := registry.Register(h); err != nil {
			log.Error("Tool registration failed", zap.String("tool", h.Name()), zap.Error(err))
		}
	}

	register(itool.NewWebReadTool(webCache, workers.BrowserURL, log))
	register(itool.NewWebScrollTool(webCache, log))
	register(itool.NewWebSearchTool(webCache, log))

	if workers.SandboxURL != "" {
		register(itool.NewCodeInterpreterTool(workers.SandboxURL, workers.FilesURL, log))
	}
	if workers.ShellURL != "" {
		register(itool.NewShellTool(workers.ShellURL, log))
	}
	if workers.VectorURL != "" {
		resolver := assistantStores{builder: builder}
		register(itool.NewVectorSearchTool("file_search", workers.VectorURL, resolver, log))
		register(itool.NewVectorSearchTool("vector_store_search", workers.VectorURL, resolver, log))
	}
}

// assistantStores resolves an assistant's attached vector stores through
// the context builder's cache tiers.
type assistantStores struct {
	builder *service.ContextBuilder
}

func (s assistantStores) VectorStores(ctx context.Context, assistantID string) ([]string, error) {
	a, err := s.builder.Assistant(ctx, assistantID, false)
	if err != nil {
		return nil, err
	}
	return a.VectorStoreIDs(), nil
}

func orchestratorConfig(c config.OrchestratorConfig) service.OrchestratorConfig {
	return service.OrchestratorConfig{
		MaxTurns:      c.MaxTurns,
		CancelPoll:    c.CancelPoll,
		Temperature:   c.Temperature,
		MaxTokens:     c.MaxTokens,
		ContextWindow: c.ContextWindow,
		DecisionFlags: service.BuildOptions{
			AgentMode: c.AgentMode,
			WebAccess: c.WebAccess,
		},
	}
}
