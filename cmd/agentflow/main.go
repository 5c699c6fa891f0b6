package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	app "github.com/kode4food/agentflow"
	"github.com/kode4food/agentflow/internal/archive"
	"github.com/kode4food/agentflow/internal/capability"
	"github.com/kode4food/agentflow/internal/config"
	"github.com/kode4food/agentflow/internal/definitions"
	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/internal/server"
	"github.com/kode4food/agentflow/pkg/log"
)

type agentflow struct {
	cfg        *config.Config
	redis      *redis.Client
	loader     *capability.BlobLoader
	prompts    *capability.PromptIndex
	archiver   *archive.BlobArchiver
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

// Capability names under which the runtime registers its collaborators.
// Remote endpoints are registered under their configured names
const (
	ModelCap     = "model"
	PromptsCap   = "prompts"
	ResourcesCap = "resources"
	MemoryCap    = "session"
	ExamplesCap  = "examples"
	UICap        = "ui"
)

var (
	ErrConnectRedis      = errors.New("failed to connect to redis")
	ErrOpenResources     = errors.New("failed to open resource buckets")
	ErrOpenPromptIndex   = errors.New("failed to open prompt index")
	ErrOpenArchive       = errors.New("failed to open run archive")
	ErrLoadDefinitions   = errors.New("failed to load definitions")
	ErrRejectDefinitions = errors.New("definitions rejected")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

const redisPingTimeout = 5 * time.Second

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &agentflow{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *agentflow) run() error {
	caps, err := s.initializeCapabilities()
	if err != nil {
		s.closeStores()
		return err
	}

	if err := s.initializeEngine(caps); err != nil {
		s.closeStores()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *agentflow) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Agentflow starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Redis.Addr),
		slog.Int("redis_db", s.cfg.Redis.DB),
		slog.String("definitions_path", s.cfg.DefinitionsPath),
		slog.Int("resource_buckets", len(s.cfg.ResourceBuckets)),
		slog.Int("remote_endpoints", len(s.cfg.RemoteEndpoints)),
		slog.String("failure_policy", string(s.cfg.FailurePolicy)),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *agentflow) initializeCapabilities() (*engine.Capabilities, error) {
	ctx := context.Background()
	caps := engine.NewCapabilities()

	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	ttl := time.Duration(s.cfg.MemoryTTL) * time.Millisecond
	caps.RegisterMemoryStore(MemoryCap,
		capability.NewRedisMemory(s.redis, s.cfg.Redis.Prefix, ttl),
	)
	caps.RegisterExampleStore(ExamplesCap,
		capability.NewRedisExamples(s.redis, s.cfg.Redis.Prefix),
	)

	var err error
	s.loader, err = capability.OpenBlobLoader(ctx, s.cfg.ResourceBuckets)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenResources, err)
	}
	caps.RegisterResourceLoader(ResourcesCap, s.loader)

	s.prompts, err = capability.OpenPromptIndex(s.cfg.PromptIndexPath, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenPromptIndex, err)
	}
	caps.RegisterPromptSource(PromptsCap, s.prompts)

	if s.cfg.AnthropicAPIKey != "" {
		caps.RegisterModelAsker(ModelCap, capability.NewAnthropicModel(
			s.cfg.AnthropicAPIKey, s.cfg.ModelName, s.cfg.ModelMaxTokens,
		))
	} else {
		slog.Warn("No model API key configured",
			slog.String("capability", ModelCap))
	}

	for name, url := range s.cfg.RemoteEndpoints {
		caps.RegisterRemoteEndpoint(name,
			capability.NewHTTPRemote(url, 0, nil),
		)
		slog.Info("Remote endpoint registered",
			slog.String("capability", name),
			slog.String("url", url))
	}

	wait := time.Duration(s.cfg.FeedbackWait) * time.Millisecond
	caps.RegisterUIFeedback(UICap, capability.NewFeedbackInbox(wait))

	if s.cfg.ArchiveBucketURL != "" {
		s.archiver, err = archive.Open(
			ctx, s.cfg.ArchiveBucketURL, s.cfg.ArchivePrefix,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
	}
	return caps, nil
}

func (s *agentflow) initializeEngine(caps *engine.Capabilities) error {
	var opts []engine.Option
	if s.archiver != nil {
		opts = append(opts, engine.WithArchiver(s.archiver))
	}
	s.engine = engine.New(s.cfg, caps, opts...)

	if s.cfg.DefinitionsPath == "" {
		slog.Warn("No definitions configured")
		return nil
	}

	defs, err := definitions.Load(s.cfg.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadDefinitions, err)
	}
	if err := s.engine.LoadDefinitions(defs); err != nil {
		return fmt.Errorf("%w: %w", ErrRejectDefinitions, err)
	}

	slog.Info("Definitions loaded",
		slog.String("path", s.cfg.DefinitionsPath),
		slog.Int("flows", len(defs.Flows)),
		slog.Int("workflows", len(defs.Workflows)),
		slog.Int("agents", len(defs.Agents)))
	return nil
}

func (s *agentflow) startServer() {
	s.apiServer = server.NewServer(s.engine)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *agentflow) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	s.closeStores()
	slog.Info("Server exited")
}

func (s *agentflow) closeStores() {
	if s.archiver != nil {
		_ = s.archiver.Close()
	}
	if s.prompts != nil {
		_ = s.prompts.Close()
	}
	if s.loader != nil {
		_ = s.loader.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
