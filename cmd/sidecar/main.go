package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/approval"
	"github.com/Jdogg9/agent-admission-sidecar/internal/auth"
	"github.com/Jdogg9/agent-admission-sidecar/internal/intent"
	"github.com/Jdogg9/agent-admission-sidecar/internal/policy"
	"github.com/Jdogg9/agent-admission-sidecar/internal/registry"
	"github.com/Jdogg9/agent-admission-sidecar/internal/sandbox"
	"github.com/Jdogg9/agent-admission-sidecar/internal/semantic"
	"github.com/Jdogg9/agent-admission-sidecar/internal/server"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trust"
)

func main() {
	setupLogger()

	log.Info().Msg("starting agent admission sidecar")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("sidecar stopped successfully")
}

func run(ctx context.Context) error {
	cfg := server.LoadConfig()

	traceStore, err := trace.NewSQLiteStore(cfg.TraceDBPath)
	if err != nil {
		return err
	}
	defer closeQuietly("trace store", traceStore.Close)
	log.Info().Str("path", cfg.TraceDBPath).Msg("trace store initialized")

	approvalStore, err := approval.NewSQLiteStore(cfg.ApprovalDBPath)
	if err != nil {
		return err
	}
	defer closeQuietly("approval store", approvalStore.Close)
	log.Info().Str("path", cfg.ApprovalDBPath).Msg("approval store initialized")

	engine, err := policy.NewEngine(cfg.PolicyPath, cfg.PolicyEnforce)
	if err != nil {
		return err
	}
	defer closeQuietly("policy engine", engine.Close)
	if err := engine.Watch(); err != nil {
		log.Warn().Err(err).Msg("policy hot reload unavailable")
	}
	log.Info().Str("path", cfg.PolicyPath).Bool("enforce", cfg.PolicyEnforce).Msg("policy engine initialized")

	cache, err := intent.NewCache(cfg.CacheDBPath, time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheEnabled)
	if err != nil {
		return err
	}
	defer closeQuietly("intent cache", cache.Close)

	hitl, err := intent.NewHitlQueue(cfg.HitlDBPath, cfg.HitlEnabled)
	if err != nil {
		return err
	}
	defer closeQuietly("hitl queue", hitl.Close)

	runner := sandbox.NewRunner(sandbox.Config{
		Enabled:  cfg.SandboxEnabled,
		Image:    cfg.SandboxImage,
		Timeout:  time.Duration(cfg.SandboxTimeoutSeconds) * time.Second,
		MemoryMB: cfg.SandboxMemoryMB,
		CPU:      cfg.SandboxCPU,
		ToolDir:  cfg.SandboxToolDir,
	})

	reg := registry.New(engine, runner, approvalStore, traceStore, registry.Config{
		SandboxRequired:  cfg.SandboxRequired,
		SandboxFallback:  cfg.SandboxFallback,
		ApprovalEnforced: cfg.ApprovalEnforced,
		MaxOutputChars:   cfg.MaxOutputChars,
	})
	if err := registry.RegisterBuiltins(reg); err != nil {
		return err
	}

	ranker := buildSemanticRouter(cfg, reg)

	router := intent.NewRouter(engine, ranker, cache, hitl, traceStore, intent.RouterConfig{
		Enabled:       cfg.RouterEnabled,
		MinConfidence: cfg.MinConfidence,
		MinGap:        cfg.MinGap,
	})

	authManager := auth.NewManager(auth.Config{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenExpiration: 24 * time.Hour,
		RequireAuth:     cfg.RequireAuth,
	})

	srv := server.New(cfg.Server, server.Deps{
		Router:             router,
		Registry:           reg,
		Approvals:          approvalStore,
		Hitl:               hitl,
		Panel:              trust.NewPanel(traceStore),
		Traces:             traceStore,
		Auth:               authManager,
		ApprovalTTLSeconds: cfg.ApprovalTTLSeconds,
	})

	return runServer(ctx, srv)
}

// buildSemanticRouter wires the tier-2 ranker against the registered tool
// set. Embedding generation stays external; with no embedder configured
// the ranker simply never matches.
func buildSemanticRouter(cfg server.AppConfig, reg *registry.Registry) *semantic.Router {
	var tools []semantic.Tool
	for _, spec := range reg.List() {
		tools = append(tools, semantic.Tool{Name: spec.Name, Description: spec.Description})
	}

	var embed semantic.EmbedFunc
	if cfg.SemanticEnabled {
		embed = semantic.NewOllamaEmbedder(cfg.EmbedBaseURL, cfg.EmbedModel, time.Duration(cfg.EmbedTimeoutSeconds)*time.Second)
		log.Info().Str("model", cfg.EmbedModel).Str("base_url", cfg.EmbedBaseURL).Msg("semantic router enabled")
	}

	return semantic.NewRouter(tools, cfg.SemanticEnabled, cfg.SemanticMinSim, embed)
}

func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Msgf("failed to close %s", name)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
