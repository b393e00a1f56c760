package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/infrastructure/cache"
	"github.com/strandlabs/strand/internal/infrastructure/llm"
	"github.com/strandlabs/strand/internal/infrastructure/logger"
	"github.com/strandlabs/strand/internal/infrastructure/persistence"
)

// Config is the full application configuration.
type Config struct {
	Server       ServerConfig         `mapstructure:"server"`
	Database     persistence.DBConfig `mapstructure:"database"`
	Redis        RedisConfig          `mapstructure:"redis"`
	Log          logger.Config        `mapstructure:"log"`
	Providers    []llm.FamilyConfig   `mapstructure:"providers"`
	Orchestrator OrchestratorConfig   `mapstructure:"orchestrator"`
	Router       RouterConfig         `mapstructure:"router"`
	Workers      WorkersConfig        `mapstructure:"workers"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// RedisConfig is the shared cache connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig converts to the cache package's form.
func (c RedisConfig) CacheConfig() cache.Config {
	return cache.Config{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// OrchestratorConfig holds the hot-reloadable run-loop tunables.
type OrchestratorConfig struct {
	MaxTurns      int           `mapstructure:"max_turns"`
	CancelPoll    time.Duration `mapstructure:"cancel_poll"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	ContextWindow int           `mapstructure:"context_window"`
	AgentMode     bool          `mapstructure:"agent_mode"`
	WebAccess     bool          `mapstructure:"web_access"`
}

// RouterConfig holds the tool-routing tunables.
type RouterConfig struct {
	ActionTTL        time.Duration `mapstructure:"action_ttl"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	MaxOutputChars   int           `mapstructure:"max_output_chars"`
	SurfaceTraceback bool          `mapstructure:"surface_traceback"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// WorkersConfig points at the sibling services tools talk to.
type WorkersConfig struct {
	SandboxURL string `mapstructure:"sandbox_url"` // code interpreter, ws://
	FilesURL   string `mapstructure:"files_url"`   // interpreter file fetches
	ShellURL   string `mapstructure:"shell_url"`   // shell worker, ws://
	BrowserURL string `mapstructure:"browser_url"` // headless browser renderer
	VectorURL  string `mapstructure:"vector_url"`  // vector search RPC
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "strand.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("orchestrator.max_turns", 10)
	v.SetDefault("orchestrator.cancel_poll", 250*time.Millisecond)
	v.SetDefault("orchestrator.temperature", 0.7)
	v.SetDefault("orchestrator.context_window", 128000)
	v.SetDefault("router.action_ttl", 60*time.Second)
	v.SetDefault("router.tool_timeout", 30*time.Second)
	v.SetDefault("router.max_output_chars", 32000)
	v.SetDefault("router.sweep_interval", 15*time.Second)
}

// Loader reads the config file and hot-reloads it on change. Reads are
// safe from any goroutine; a reload swaps the whole Config value.
type Loader struct {
	v      *viper.Viper
	mu     sync.RWMutex
	cfg    *Config
	logger *zap.Logger
	onSwap []func(*Config)
}

// Load reads configuration from path (or the defaults when path is
// empty and no config file is found).
func Load(path string, log *zap.Logger) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/strand")
	}
	v.SetEnvPrefix("STRAND")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = llm.DefaultFamilies()
	}

	return &Loader{v: v, cfg: cfg, logger: log}, nil
}

// Config returns the current snapshot.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnReload registers a callback fired with the new snapshot after a
// successful hot reload.
func (l *Loader) OnReload(fn func(*Config)) {
	l.mu.Lock()
	l.onSwap = append(l.onSwap, fn)
	l.mu.Unlock()
}

// Watch starts the fsnotify-based file watcher. A malformed edit keeps
// the previous snapshot.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := l.v.Unmarshal(cfg); err != nil {
			l.logger.Error("Config reload failed, keeping previous",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		if len(cfg.Providers) == 0 {
			cfg.Providers = llm.DefaultFamilies()
		}

		l.mu.Lock()
		l.cfg = cfg
		callbacks := append([]func(*Config){}, l.onSwap...)
		l.mu.Unlock()

		l.logger.Info("Config reloaded", zap.String("file", e.Name))
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}
