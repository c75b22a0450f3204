package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/logger"
	"github.com/tabletalk/tabletalk/pkg/agent"
	"github.com/tabletalk/tabletalk/pkg/chat"
	"github.com/tabletalk/tabletalk/pkg/gateway"
	"github.com/tabletalk/tabletalk/pkg/index"
	"github.com/tabletalk/tabletalk/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tabletalk service",
	Long: `Run the tabletalk HTTP and WebSocket service.
Sessions are held in memory and evicted after the configured idle TTL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.Zerolog()

	registry := tools.NewRegistry(zl)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	provider, err := agent.NewProvider(cfg.AI.Provider, cfg.AI.APIKey)
	if err != nil {
		return err
	}

	orchestrator, err := agent.NewOrchestrator(provider, registry, zl, agent.Config{
		Model:         cfg.AI.Model,
		Temperature:   cfg.AI.Temperature,
		MaxTokens:     cfg.AI.MaxTokens,
		TopK:          cfg.Index.TopK,
		HistoryWindow: cfg.Sessions.HistoryWindow,
		MaxToolTurns:  cfg.AI.MaxToolTurns,
		MaxRetries:    cfg.AI.MaxRetries,
		TurnTimeout:   cfg.AI.TurnTimeout,
	})
	if err != nil {
		return err
	}

	// Embeddings come from OpenAI regardless of the chat provider. Without
	// a key the index degrades to keyword retrieval.
	var embedder index.Embedder
	if cfg.AI.EmbeddingKey != "" {
		embedder = index.NewOpenAIEmbedder(cfg.AI.EmbeddingKey, cfg.AI.EmbeddingModel)
	} else {
		zl.Warn().Msg("No embedding key configured, sessions run keyword-only retrieval")
	}

	sessions, err := chat.NewManager(chat.NewMemoryStore(), orchestrator, embedder, zl, chat.Config{
		MaxChunks:    cfg.Index.MaxChunks,
		SampleRows:   cfg.Index.SampleRows,
		IdleTTL:      cfg.Sessions.IdleTTL,
		WatchDataset: cfg.Sessions.WatchDataset,
	})
	if err != nil {
		return err
	}

	sweeper, err := chat.NewSweeper(sessions, cfg.Sessions.SweepSchedule, zl)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Port:     cfg.Server.Port,
		Sessions: sessions,
		Logger:   zl,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
