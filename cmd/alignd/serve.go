package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/capabilities/langchain"
	"github.com/fyrsmithlabs/alignd/internal/config"
	"github.com/fyrsmithlabs/alignd/internal/enforce"
	"github.com/fyrsmithlabs/alignd/internal/engine"
	"github.com/fyrsmithlabs/alignd/internal/httpapi"
	"github.com/fyrsmithlabs/alignd/internal/logging"
	"github.com/fyrsmithlabs/alignd/internal/reranker"
	"github.com/fyrsmithlabs/alignd/internal/retrieval"
	"github.com/fyrsmithlabs/alignd/internal/rulefilter"
	"github.com/fyrsmithlabs/alignd/internal/rules"
	"github.com/fyrsmithlabs/alignd/internal/scenario"
	"github.com/fyrsmithlabs/alignd/internal/store"
	"github.com/fyrsmithlabs/alignd/internal/telemetry"
)

var (
	configPath string
	seedPath   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the alignd HTTP server",
	Long: `Start the decision engine and serve the turn API.

Examples:
  # Start with defaults
  alignd serve

  # Start with a config file and seed data
  alignd serve --config ./alignd.yaml --seed ./tenant.json`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	serveCmd.Flags().StringVar(&seedPath, "seed", "", "path to JSON seed file with rules and scenarios")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(cfg.Telemetry.Namespace)
	}

	mem := store.NewMemory()
	if seedPath != "" {
		if err := loadSeed(mem, seedPath); err != nil {
			return fmt.Errorf("loading seed data: %w", err)
		}
		logger.Info("seed data loaded", zap.String("path", seedPath))
	}

	embedder, err := langchain.NewEmbedder(providerConfig(cfg.Providers.Embeddings))
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	reasoner, err := langchain.NewReasoner(providerConfig(cfg.Providers.Reasoner))
	if err != nil {
		return fmt.Errorf("creating reasoner: %w", err)
	}
	judge, err := langchain.NewReasoner(providerConfig(cfg.Providers.Judge))
	if err != nil {
		return fmt.Errorf("creating judge: %w", err)
	}

	var bank *store.MemoryBank
	if cfg.MemoryBank.Enabled {
		if cfg.MemoryBank.Path != "" {
			bank, err = store.NewPersistentMemoryBank(cfg.MemoryBank.Path, true, embedder)
		} else {
			bank, err = store.NewMemoryBank(embedder)
		}
		if err != nil {
			return fmt.Errorf("creating memory bank: %w", err)
		}
	}

	rerank := reranker.NewLexical()
	tunables := buildTunables(cfg, mem, bank, rerank, judge, logger)

	deps := engine.Deps{
		Config:    mem,
		Sessions:  mem,
		Embedder:  embedder,
		Responder: engine.NewReasonerResponder(reasoner, capabilities.GenerateOptions{Temperature: 0.7, MaxTokens: 1024}),
		Filter:    rulefilter.New(reasoner, logger.Named("rulefilter")),
		Expander:  rules.NewExpander(cfg.Navigation.RelationshipDepth),
		Navigator: scenario.NewNavigator(cfg.Navigation.MaxLoopCount),
		Metrics:   metrics,
		Logger:    logger.Named("engine"),
	}
	if bank != nil {
		deps.Memories = bank
	}
	eng, err := engine.New(deps, tunables)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(eng, metrics, logger.Named("http"), &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger.Named("config"), func(next *config.Config) {
				eng.Swap(buildTunables(next, mem, bank, rerank, judge, logger))
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// buildTunables assembles the hot-swappable engine parts from config.
// Called again on every config reload.
func buildTunables(cfg *config.Config, mem *store.Memory, bank *store.MemoryBank, rerank *reranker.Lexical, judge *langchain.Reasoner, logger *zap.Logger) engine.Tunables {
	var memRetriever *retrieval.MemoryRetriever
	if bank != nil {
		memRetriever = retrieval.NewMemoryRetriever(bank, rerank, cfg.Memories, logger.Named("memories"))
	}
	return engine.Tunables{
		Rules:            retrieval.NewRuleRetriever(mem, rerank, cfg.Rules, logger.Named("rules")),
		Scenarios:        retrieval.NewScenarioRetriever(mem, rerank, cfg.Scenarios, logger.Named("scenarios")),
		Memories:         memRetriever,
		Validator:        enforce.New(cfg.Enforcement, judge, logger.Named("enforce")),
		FallbackResponse: cfg.FallbackResponse,
	}
}

func providerConfig(p config.ProviderConfig) langchain.Config {
	return langchain.Config{
		BaseURL: p.BaseURL,
		Model:   p.Model,
		APIKey:  p.APIKey.Value(),
	}
}

// seedFile is the JSON shape accepted by --seed.
type seedFile struct {
	Rules         []rules.Rule         `json:"rules"`
	Scenarios     []scenario.Scenario  `json:"scenarios"`
	Relationships []rules.Relationship `json:"relationships"`
}

func loadSeed(mem *store.Memory, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := json.Unmarshal(content, &seed); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, r := range seed.Rules {
		mem.PutRule(r)
	}
	for _, sc := range seed.Scenarios {
		mem.PutScenario(sc)
	}
	for _, rel := range seed.Relationships {
		mem.PutRelationship(rel)
	}
	return nil
}
